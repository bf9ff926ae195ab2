// Package protocol defines the JSON-RPC 2.0 envelope spoken over the
// execution websocket, including the service's custom error codes and the
// notification payloads for process lifecycle events.
package protocol

import "encoding/json"

// Version is the only JSON-RPC version accepted or emitted.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Service-specific error codes.
const (
	CodeSessionLimit      = -32001
	CodeCommandNotAllowed = -32002
	CodeProcessNotFound   = -32003
)

// Methods clients may call.
const (
	MethodExecute = "execute"
	MethodControl = "control"
)

// Notification methods pushed by the server.
const (
	NotifyStarted   = "process.started"
	NotifyOutput    = "process.output"
	NotifyCompleted = "process.completed"
	NotifyFailed    = "process.failed"
	NotifyStatus    = "process.status"
	NotifyHeartbeat = "heartbeat"
)

// Request is an incoming JSON-RPC message. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Notification reports whether the request expects no response.
func (r *Request) Notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is an outgoing JSON-RPC message: a result, an error, or a
// server-initiated notification when Method is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ExecuteParams are the parameters of the execute method.
type ExecuteParams struct {
	Command string `json:"command"`
	// TimeoutSecs optionally overrides the predicted hard limit.
	TimeoutSecs float64 `json:"timeout,omitempty"`
}

// ControlParams are the parameters of the control method.
type ControlParams struct {
	// Action is one of cancel, pause, resume.
	Action string `json:"action"`
}

// Control actions.
const (
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// ExecuteResult acknowledges a started execution.
type ExecuteResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	PGID   int    `json:"pgid"`
}

// ControlResult acknowledges a control action.
type ControlResult struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// StartedParams is the payload of process.started.
type StartedParams struct {
	PID  int `json:"pid"`
	PGID int `json:"pgid"`
}

// OutputParams is the payload of process.output.
type OutputParams struct {
	Type string `json:"type"` // stdout | stderr
	Data string `json:"data"`
	// Timestamp is seconds since the Unix epoch at read time.
	Timestamp float64 `json:"timestamp"`
	Truncated bool    `json:"truncated,omitempty"`
}

// CompletedParams is the payload of process.completed.
type CompletedParams struct {
	ExitCode     int     `json:"exit_code"`
	DurationSecs float64 `json:"duration_secs"`
}

// FailedParams is the payload of process.failed.
type FailedParams struct {
	Error    string `json:"error"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// StatusParams is the payload of process.status, sent while output has
// stalled but the hard limit has not been reached.
type StatusParams struct {
	NoOutputForSecs float64 `json:"no_output_for"`
	StallLimitSecs  float64 `json:"stall_limit"`
}

// HeartbeatParams is the payload of heartbeat.
type HeartbeatParams struct {
	Timestamp float64 `json:"timestamp"`
}
