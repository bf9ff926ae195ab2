// Package session drives the execution protocol for one client connection:
// it owns the lifecycle state machine, relays process output, and runs the
// heartbeat/stall monitor.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/log"
	"github.com/droverhq/drover/internal/predict"
	"github.com/droverhq/drover/internal/process"
	"github.com/droverhq/drover/internal/protocol"
	"github.com/droverhq/drover/internal/timing"
)

// Conn is the slice of a websocket connection the session needs.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TimeoutPlanner produces a timeout plan for a command.
type TimeoutPlanner interface {
	Predict(ctx context.Context, command string) predict.Plan
}

// TimingRecorder persists completed execution timings.
type TimingRecorder interface {
	Record(ctx context.Context, sm timing.Sample)
}

// Spawner starts supervised processes.
type Spawner interface {
	Spawn(ctx context.Context, command string) (*process.Handle, error)
}

// Session is one client connection and at most one supervised process.
type Session struct {
	ID string

	conn     Conn
	planner  TimeoutPlanner
	recorder TimingRecorder
	spawner  Spawner
	hub      *events.Hub
	cfg      *config.Config
	logger   *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	handle     *process.Handle
	cancelExec context.CancelFunc

	lastOutput atomic.Int64 // unix nanos
	stalled    atomic.Bool

	createdAt time.Time
}

func newSession(conn Conn, planner TimeoutPlanner, recorder TimingRecorder, spawner Spawner, hub *events.Hub, cfg *config.Config) *Session {
	id := uuid.New().String()
	return &Session{
		ID:        id,
		conn:      conn,
		planner:   planner,
		recorder:  recorder,
		spawner:   spawner,
		hub:       hub,
		cfg:       cfg,
		logger:    log.WithSession(id),
		state:     StateIdle,
		createdAt: time.Now(),
	}
}

// Run reads frames until the connection drops or the session reaches CLOSED.
// Blocking; the caller owns the connection's goroutine.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	// Unblock the read loop on server shutdown.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	s.logger.Info("session opened")
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("connection closed", "reason", err)
			return
		}
		s.dispatch(ctx, data)
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	req, rpcErr := protocol.ParseRequest(data)
	if rpcErr != nil {
		s.send(protocol.NewError(nil, rpcErr.Code, rpcErr.Message))
		return
	}

	switch req.Method {
	case protocol.MethodExecute:
		s.handleExecute(ctx, req)
	case protocol.MethodControl:
		s.handleControl(req)
	default:
		if !req.Notification() {
			s.send(protocol.NewError(req.ID, protocol.CodeMethodNotFound,
				fmt.Sprintf("method %q not found", req.Method)))
		}
	}
}

func (s *Session) handleExecute(ctx context.Context, req *protocol.Request) {
	var params protocol.ExecuteParams
	if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
		s.send(protocol.NewError(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}
	if strings.TrimSpace(params.Command) == "" {
		s.send(protocol.NewError(req.ID, protocol.CodeInvalidParams, "command must not be empty"))
		return
	}
	if !s.commandAllowed(params.Command) {
		s.send(protocol.NewError(req.ID, protocol.CodeCommandNotAllowed, "command not allowed"))
		return
	}

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.send(protocol.NewError(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("cannot execute in state %s", state)))
		return
	}
	s.setStateLocked(StateStarting)
	s.mu.Unlock()

	plan := s.planner.Predict(ctx, params.Command)
	maxTime := plan.MaxTime()
	if params.TimeoutSecs > 0 {
		maxTime = time.Duration(params.TimeoutSecs * float64(time.Second))
	}
	if maxTime > s.cfg.Process.MaxTimeout {
		maxTime = s.cfg.Process.MaxTimeout
	}

	handle, err := s.spawner.Spawn(ctx, params.Command)
	if err != nil {
		s.logger.Error("spawn failed", "error", err)
		s.transition(StateIdle)
		s.send(protocol.NewError(req.ID, protocol.CodeInternalError,
			fmt.Sprintf("spawn failed: %v", err)))
		return
	}

	execCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.handle = handle
	s.cancelExec = cancel
	s.setStateLocked(StateRunning)
	s.mu.Unlock()

	s.lastOutput.Store(time.Now().UnixNano())
	s.stalled.Store(false)

	s.send(protocol.NewResult(req.ID, protocol.ExecuteResult{
		Status: "started", PID: handle.PID(), PGID: handle.PGID(),
	}))
	s.send(protocol.NewNotification(protocol.NotifyStarted, protocol.StartedParams{
		PID: handle.PID(), PGID: handle.PGID(),
	}))
	s.hub.Publish(events.ProcessStarted, events.Scope{SessionID: s.ID},
		protocol.StartedParams{PID: handle.PID(), PGID: handle.PGID()})
	s.logger.Info("process started",
		"pid", handle.PID(), "command", params.Command,
		"basis", plan.Basis, "max_time", maxTime, "stall_timeout", plan.StallTimeout)

	go s.supervise(execCtx, handle, plan, maxTime, params.Command)
}

// supervise relays output, runs the monitor, and settles the execution.
// Completion notifications are sent only after every output chunk has been
// relayed, preserving per-session FIFO order.
func (s *Session) supervise(ctx context.Context, handle *process.Handle, plan predict.Plan, maxTime time.Duration, command string) {
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		for chunk := range handle.Output() {
			s.lastOutput.Store(time.Now().UnixNano())
			s.stalled.Store(false)
			s.send(protocol.NewNotification(protocol.NotifyOutput, protocol.OutputParams{
				Type:      chunk.Stream,
				Data:      chunk.Data,
				Timestamp: float64(chunk.At.UnixNano()) / float64(time.Second),
				Truncated: chunk.Truncated,
			}))
		}
	}()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go s.monitor(monitorCtx, plan)

	res, err := handle.WaitOrKill(ctx, maxTime)
	<-outputDone
	stopMonitor()

	s.mu.Lock()
	s.handle = nil
	s.cancelExec = nil
	s.mu.Unlock()

	if err != nil {
		// Disconnect or shutdown: the group is dead, nobody is listening.
		s.logger.Info("execution cancelled", "reason", err)
		return
	}

	actual := res.Finished.Sub(res.Started)
	if res.TimedOut {
		s.logger.Warn("execution hit hard limit", "limit", maxTime, "elapsed", actual)
		s.send(protocol.NewNotification(protocol.NotifyFailed, protocol.FailedParams{
			Error:    fmt.Sprintf("execution exceeded hard limit of %v", maxTime),
			TimedOut: true,
		}))
		s.hub.Publish(events.ProcessFailed, events.Scope{SessionID: s.ID},
			protocol.FailedParams{Error: "hard timeout", TimedOut: true})
		s.transition(StateTimedOut)
	} else {
		s.logger.Info("process completed", "exit_code", res.ExitCode, "elapsed", actual)
		s.send(protocol.NewNotification(protocol.NotifyCompleted, protocol.CompletedParams{
			ExitCode:     res.ExitCode,
			DurationSecs: actual.Seconds(),
		}))
		s.hub.Publish(events.ProcessCompleted, events.Scope{SessionID: s.ID},
			protocol.CompletedParams{ExitCode: res.ExitCode, DurationSecs: actual.Seconds()})
		s.transition(StateCompleted)
	}

	s.recorder.Record(context.WithoutCancel(ctx), timing.Sample{
		Class:           plan.Class,
		ActualSeconds:   actual.Seconds(),
		ExpectedSeconds: plan.ExpectedSeconds,
		Success:         !res.TimedOut && res.ExitCode == 0,
		TokenCount:      len(strings.Fields(command)),
	})

	// One execution per session: settle, then close the connection.
	_ = s.conn.Close()
}

// monitor emits heartbeats on a fixed interval and stall warnings once the
// inter-chunk gap exceeds the plan's stall timeout. Warnings are
// observational; only the hard limit terminates anything.
func (s *Session) monitor(ctx context.Context, plan predict.Plan) {
	heartbeat := time.NewTicker(s.cfg.Server.HeartbeatInterval)
	defer heartbeat.Stop()

	checkInterval := plan.StallTimeout / 4
	if checkInterval < time.Second {
		checkInterval = time.Second
	}
	if checkInterval > 15*time.Second {
		checkInterval = 15 * time.Second
	}
	stallCheck := time.NewTicker(checkInterval)
	defer stallCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.send(protocol.NewNotification(protocol.NotifyHeartbeat, protocol.HeartbeatParams{
				Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			}))
		case <-stallCheck.C:
			gap := time.Since(time.Unix(0, s.lastOutput.Load()))
			if gap < plan.StallTimeout {
				continue
			}
			s.send(protocol.NewNotification(protocol.NotifyStatus, protocol.StatusParams{
				NoOutputForSecs: gap.Seconds(),
				StallLimitSecs:  plan.StallTimeout.Seconds(),
			}))
			if !s.stalled.Swap(true) {
				s.logger.Warn("no output from process", "gap", gap, "stall_timeout", plan.StallTimeout)
				s.hub.Publish(events.ProcessStalled, events.Scope{SessionID: s.ID},
					protocol.StatusParams{NoOutputForSecs: gap.Seconds(), StallLimitSecs: plan.StallTimeout.Seconds()})
			}
		}
	}
}

func (s *Session) handleControl(req *protocol.Request) {
	var params protocol.ControlParams
	if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
		s.send(protocol.NewError(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}

	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		s.send(protocol.NewError(req.ID, protocol.CodeProcessNotFound, "no process running"))
		return
	}

	switch params.Action {
	case protocol.ActionCancel:
		s.logger.Info("cancel requested", "pid", handle.PID())
		go handle.Terminate()
	case protocol.ActionPause:
		if err := syscall.Kill(-handle.PGID(), syscall.SIGSTOP); err != nil {
			s.send(protocol.NewError(req.ID, protocol.CodeInternalError, fmt.Sprintf("pause failed: %v", err)))
			return
		}
	case protocol.ActionResume:
		if err := syscall.Kill(-handle.PGID(), syscall.SIGCONT); err != nil {
			s.send(protocol.NewError(req.ID, protocol.CodeInternalError, fmt.Sprintf("resume failed: %v", err)))
			return
		}
	default:
		s.send(protocol.NewError(req.ID, protocol.CodeInvalidParams,
			fmt.Sprintf("unknown control action %q", params.Action)))
		return
	}
	s.send(protocol.NewResult(req.ID, protocol.ControlResult{Status: "ok", Action: params.Action}))
}

func (s *Session) commandAllowed(command string) bool {
	allowed := s.cfg.Server.AllowedCommands
	if len(allowed) == 0 {
		return true
	}
	trimmed := strings.TrimSpace(command)
	for _, prefix := range allowed {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// close tears the session down: any live process group is killed without
// waiting for protocol acknowledgement.
func (s *Session) close() {
	s.mu.Lock()
	cancel := s.cancelExec
	handle := s.handle
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Terminate()
	}
	_ = s.conn.Close()
	s.hub.Publish(events.SessionClosed, events.Scope{SessionID: s.ID}, nil)
	s.logger.Info("session closed")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(to)
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	if !canTransition(s.state, to) {
		s.logger.Warn("ignoring invalid state transition", "from", s.state.String(), "to", to.String())
		return
	}
	s.logger.Debug("state transition", "from", s.state.String(), "to", to.String())
	s.state = to
}

func (s *Session) send(resp *protocol.Response) {
	data, err := protocol.Encode(resp)
	if err != nil {
		s.logger.Error("encode frame failed", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("write failed", "error", err)
	}
}
