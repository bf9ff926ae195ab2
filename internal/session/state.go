package session

import "fmt"

// State is a session's position in its lifecycle. Stalling is tracked as a
// warning flag on a running session, not as a state of its own.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the execution has reached an end state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateClosed:
		return true
	}
	return false
}

// validTransitions encodes the lifecycle: IDLE -> STARTING -> RUNNING ->
// {COMPLETED, FAILED, TIMED_OUT} -> CLOSED. Spawn failures drop a session
// back to IDLE so the connection stays usable, and CLOSED is reachable from
// anywhere on disconnect.
var validTransitions = map[State][]State{
	StateIdle:      {StateStarting, StateClosed},
	StateStarting:  {StateRunning, StateFailed, StateIdle, StateClosed},
	StateRunning:   {StateCompleted, StateFailed, StateTimedOut, StateClosed},
	StateCompleted: {StateClosed},
	StateFailed:    {StateClosed},
	StateTimedOut:  {StateClosed},
	StateClosed:    {},
}

// canTransition reports whether from -> to is a legal lifecycle step.
func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
