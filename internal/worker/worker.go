// Package worker consumes the durable task queue: one task at a time,
// executed in a clean task-scoped workspace with a minimal environment, with
// the same kill discipline as interactive sessions.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/log"
	"github.com/droverhq/drover/internal/predict"
	"github.com/droverhq/drover/internal/process"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/timing"
	"github.com/droverhq/drover/internal/workspace"
)

// isolatedPath is the reduced search path handed to task processes.
const isolatedPath = "/usr/local/bin:/usr/bin:/bin"

// TimeoutPlanner produces a timeout plan for a command.
type TimeoutPlanner interface {
	Predict(ctx context.Context, command string) predict.Plan
}

// TimingRecorder persists completed execution timings.
type TimingRecorder interface {
	Record(ctx context.Context, sm timing.Sample)
}

// Worker polls the queue and executes tasks serially.
type Worker struct {
	id         string
	queue      *queue.Queue
	workspaces *workspace.Manager
	planner    TimeoutPlanner
	recorder   TimingRecorder
	supervisor *process.Supervisor
	hub        *events.Hub
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates a Worker.
func New(id string, q *queue.Queue, ws *workspace.Manager, planner TimeoutPlanner, recorder TimingRecorder, sup *process.Supervisor, hub *events.Hub, cfg *config.Config) *Worker {
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	return &Worker{
		id:         id,
		queue:      q,
		workspaces: ws,
		planner:    planner,
		recorder:   recorder,
		supervisor: sup,
		hub:        hub,
		cfg:        cfg,
		logger:     log.WithComponent("worker").With("worker_id", id),
	}
}

// staleWorkspaceAge is how old a leftover task directory must be before the
// startup sweep removes it. A crashed worker leaves its directory behind;
// anything this old belongs to no live task.
const staleWorkspaceAge = 24 * time.Hour

// Run is the worker loop. The short poll interval keeps shutdown prompt.
// Blocking; returns when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker loop started", "poll_interval", w.cfg.Worker.PollInterval)
	defer w.logger.Info("worker loop stopped")

	if report, err := w.workspaces.Cleanup(ctx, staleWorkspaceAge); err != nil {
		w.logger.Warn("stale workspace sweep failed", "error", err)
	} else if report.DeletedDirs > 0 {
		w.logger.Info("removed stale workspaces", "count", report.DeletedDirs)
	}

	ticker := time.NewTicker(w.cfg.Worker.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processNext(ctx); err != nil {
				w.logger.Error("task processing failed", "error", err)
			}
		}
	}
}

func (w *Worker) processNext(ctx context.Context) error {
	task, err := w.queue.Dequeue(ctx, w.id)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if task == nil {
		return nil
	}
	w.execute(ctx, task)
	return nil
}

func (w *Worker) execute(ctx context.Context, task *queue.Task) {
	logger := log.WithTask(task.ID).With("worker_id", w.id, "command", task.Command)
	logger.Info("executing task")
	w.hub.Publish(events.TaskStarted, events.Scope{TaskID: task.ID}, map[string]string{"command": task.Command})

	ws, err := w.workspaces.Create(ctx, task.ID)
	if err != nil {
		w.fail(ctx, task, fmt.Sprintf("create workspace: %v", err), logger)
		return
	}
	defer func() {
		if err := w.workspaces.Wipe(context.WithoutCancel(ctx), task.ID); err != nil {
			logger.Warn("workspace wipe failed", "error", err)
		}
	}()

	plan := w.planner.Predict(ctx, task.Command)
	maxTime := plan.MaxTime()
	if task.TimeoutSecs > 0 {
		maxTime = time.Duration(task.TimeoutSecs) * time.Second
	}
	if maxTime > w.cfg.Worker.ExecutionTimeout {
		maxTime = w.cfg.Worker.ExecutionTimeout
	}

	handle, err := w.supervisor.SpawnWith(ctx, task.Command, process.SpawnOpts{
		Dir: ws.Dir,
		Env: isolatedEnv(ws.Dir),
	})
	if err != nil {
		w.fail(ctx, task, fmt.Sprintf("spawn: %v", err), logger)
		return
	}

	var stdout, stderr strings.Builder
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		for chunk := range handle.Output() {
			switch chunk.Stream {
			case process.StreamStdout:
				stdout.WriteString(chunk.Data)
			case process.StreamStderr:
				stderr.WriteString(chunk.Data)
			}
		}
	}()

	res, err := handle.WaitOrKill(ctx, maxTime)
	<-outputDone
	if err != nil {
		// Shutdown mid-task: the group is dead, leave the task failed so
		// the submitter sees it did not finish.
		w.fail(context.WithoutCancel(ctx), task, fmt.Sprintf("worker shutdown: %v", err), logger)
		return
	}

	files, err := w.workspaces.Collect(ctx, ws, workspace.Caps{
		MaxFileBytes:  w.cfg.Worker.MaxFileBytes,
		MaxTotalBytes: w.cfg.Worker.MaxTotalBytes,
	})
	if err != nil {
		logger.Warn("file collection failed", "error", err)
		files = nil
	}

	actual := res.Finished.Sub(res.Started)
	result := &queue.Result{
		ExitCode:     res.ExitCode,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		DurationSecs: actual.Seconds(),
		TimedOut:     res.TimedOut,
		Files:        files,
	}

	status := queue.StatusSucceeded
	var lastError *string
	switch {
	case res.TimedOut:
		status = queue.StatusTimedOut
		msg := fmt.Sprintf("execution exceeded hard limit of %v", maxTime)
		lastError = &msg
	case res.ExitCode != 0:
		status = queue.StatusFailed
		msg := fmt.Sprintf("exit code %d", res.ExitCode)
		lastError = &msg
	}

	if err := w.queue.Complete(ctx, task.ID, status, result, lastError); err != nil {
		logger.Error("task completion failed", "error", err)
	}

	w.recorder.Record(context.WithoutCancel(ctx), timing.Sample{
		Class:           plan.Class,
		ActualSeconds:   actual.Seconds(),
		ExpectedSeconds: plan.ExpectedSeconds,
		Success:         status == queue.StatusSucceeded,
		TokenCount:      len(strings.Fields(task.Command)),
	})

	eventType := events.TaskCompleted
	if status != queue.StatusSucceeded {
		eventType = events.TaskFailed
	}
	w.hub.Publish(eventType, events.Scope{TaskID: task.ID}, map[string]any{
		"status":        string(status),
		"exit_code":     res.ExitCode,
		"duration_secs": actual.Seconds(),
	})
	logger.Info("task finished", "status", status, "exit_code", res.ExitCode, "elapsed", actual)
}

func (w *Worker) fail(ctx context.Context, task *queue.Task, msg string, logger *slog.Logger) {
	logger.Error("task failed", "error", msg)
	if err := w.queue.Complete(ctx, task.ID, queue.StatusFailed, nil, &msg); err != nil {
		logger.Error("task completion failed", "error", err)
	}
	w.hub.Publish(events.TaskFailed, events.Scope{TaskID: task.ID}, map[string]string{"error": msg})
}

// isolatedEnv is the minimal allow-listed environment for task processes:
// home and temp point inside the workspace, the search path is reduced, and
// interpreter path variables are cleared by omission.
func isolatedEnv(dir string) []string {
	return []string{
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"PATH=" + isolatedPath,
		"LANG=C.UTF-8",
		"PYTHONUNBUFFERED=1",
	}
}
