// Package process spawns shell commands in their own process group, streams
// their output, and enforces kill discipline when they exceed their limits.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/log"
)

const (
	// terminationGracePeriod is the time we wait after SIGTERM before
	// sending SIGKILL to the process group.
	terminationGracePeriod = 5 * time.Second

	// readChunkSize is the per-read buffer for each output pipe.
	readChunkSize = 4096
)

// Stream names for output chunks.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputChunk is one piece of child output, timestamped at read time.
// Chunks from the same stream arrive in the order the child wrote them.
type OutputChunk struct {
	Stream    string
	Data      string
	At        time.Time
	Truncated bool
}

// Result describes how an execution ended.
type Result struct {
	ExitCode int
	TimedOut bool
	Started  time.Time
	Finished time.Time
}

// Supervisor spawns and supervises command executions.
type Supervisor struct {
	cfg    config.ProcessConfig
	logger *slog.Logger
}

// New creates a Supervisor.
func New(cfg config.ProcessConfig) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent("process"),
	}
}

// Handle is one running child process and its output stream.
type Handle struct {
	cmd     *exec.Cmd
	pgid    int
	output  chan OutputChunk
	waitErr chan error
	started time.Time
	logger  *slog.Logger

	killOnce sync.Once
}

// SpawnOpts adjusts where and with what environment a command runs.
type SpawnOpts struct {
	// Dir is the working directory. Empty means the supervisor's own.
	Dir string
	// Env replaces the inherited environment when non-nil.
	Env []string
}

// Spawn starts command under the shell in a fresh process group, with stdin
// detached. The returned handle streams output until the process exits.
func (s *Supervisor) Spawn(ctx context.Context, command string) (*Handle, error) {
	return s.SpawnWith(ctx, command, SpawnOpts{})
}

// SpawnWith is Spawn with an explicit working directory and environment,
// used by worker mode for task isolation.
func (s *Supervisor) SpawnWith(ctx context.Context, command string, opts SpawnOpts) (*Handle, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	}
	// Stdin stays nil so the child reads from /dev/null and can never block
	// waiting for input.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &Handle{
		cmd:     cmd,
		pgid:    cmd.Process.Pid,
		output:  make(chan OutputChunk, 64),
		waitErr: make(chan error, 1),
		started: time.Now(),
		logger:  s.logger.With("pid", cmd.Process.Pid),
	}
	h.logger.Debug("process started", "pgid", h.pgid)

	// Shared budget across both streams. Once spent, remaining output is
	// drained and dropped so the child never blocks on a full pipe.
	budget := &outputBudget{remaining: int64(s.cfg.BufferCap)}

	var readers sync.WaitGroup
	readers.Add(2)
	go h.readStream(StreamStdout, stdout, budget, &readers)
	go h.readStream(StreamStderr, stderr, budget, &readers)

	go func() {
		readers.Wait()
		close(h.output)
		h.waitErr <- cmd.Wait()
	}()

	return h, nil
}

// PID returns the child's process ID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// PGID returns the child's process group ID.
func (h *Handle) PGID() int { return h.pgid }

// Output returns the merged output stream. The channel closes once both
// pipes reach EOF. The caller must drain it; an undrained channel stalls
// pipe readers and with them exit detection.
func (h *Handle) Output() <-chan OutputChunk { return h.output }

// Started returns when the child was spawned.
func (h *Handle) Started() time.Time { return h.started }

type outputBudget struct {
	mu        sync.Mutex
	remaining int64
}

// take reserves up to n bytes. It returns the granted amount and whether the
// budget has just been exhausted by this call.
func (b *outputBudget) take(n int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return 0, false
	}
	if n >= b.remaining {
		granted := b.remaining
		b.remaining = 0
		return granted, true
	}
	b.remaining -= n
	return n, false
}

func (h *Handle) readStream(stream string, r io.Reader, budget *outputBudget, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReaderSize(r, readChunkSize)
	buf := make([]byte, readChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			granted, exhausted := budget.take(int64(n))
			if granted > 0 {
				h.output <- OutputChunk{
					Stream: stream,
					Data:   string(buf[:granted]),
					At:     time.Now(),
				}
			}
			if exhausted {
				h.logger.Warn("output buffer cap reached, truncating", "stream", stream)
				h.output <- OutputChunk{Stream: stream, At: time.Now(), Truncated: true}
			}
		}
		if err != nil {
			return
		}
	}
}

// WaitOrKill blocks until the child exits, the hard limit elapses, or ctx is
// cancelled. On limit or cancellation the whole process group is terminated
// before returning. The returned error is non-nil only for supervision
// failures; a non-zero exit is reported through Result.ExitCode.
func (h *Handle) WaitOrKill(ctx context.Context, maxTime time.Duration) (Result, error) {
	limit := time.NewTimer(maxTime)
	defer limit.Stop()

	res := Result{Started: h.started, ExitCode: -1}

	select {
	case err := <-h.waitErr:
		res.Finished = time.Now()
		res.ExitCode = exitCode(h.cmd, err)
		return res, nil

	case <-limit.C:
		h.logger.Warn("hard limit reached, terminating process group", "limit", maxTime)
		h.Terminate()
		<-h.waitErr
		res.Finished = time.Now()
		res.TimedOut = true
		return res, nil

	case <-ctx.Done():
		h.logger.Info("supervision cancelled, terminating process group")
		h.Terminate()
		<-h.waitErr
		res.Finished = time.Now()
		return res, ctx.Err()
	}
}

// Terminate kills the entire process group: SIGTERM first, SIGKILL after the
// grace period. Safe to call more than once.
func (h *Handle) Terminate() {
	h.killOnce.Do(func() {
		if err := syscall.Kill(-h.pgid, syscall.SIGTERM); err != nil {
			h.logger.Debug("SIGTERM failed", "error", err)
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		done := make(chan struct{})
		go func() {
			for {
				// Signal 0 probes group liveness without delivering anything.
				if err := syscall.Kill(-h.pgid, syscall.Signal(0)); err != nil {
					close(done)
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()

		select {
		case <-done:
		case <-grace.C:
			h.logger.Warn("process group survived SIGTERM, sending SIGKILL")
			if err := syscall.Kill(-h.pgid, syscall.SIGKILL); err != nil {
				h.logger.Debug("SIGKILL failed", "error", err)
			}
		}
	})
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
