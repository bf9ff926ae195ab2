package queue

import (
	"errors"
	"time"
)

// Status is a task's queue state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether a status ends the task's life.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Task is one queued command execution.
type Task struct {
	ID          string
	Command     string
	TimeoutSecs int
	Status      Status
	SubmittedBy string
	WorkerID    *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
	Result      *Result
}

// Result is what a worker produced for a task. Files maps relative path to
// content; oversize entries hold a placeholder instead of content.
type Result struct {
	ExitCode     int               `json:"exit_code"`
	Stdout       string            `json:"stdout"`
	Stderr       string            `json:"stderr"`
	DurationSecs float64           `json:"duration_secs"`
	TimedOut     bool              `json:"timed_out,omitempty"`
	Files        map[string]string `json:"files,omitempty"`
}

// EnqueueRequest describes a task to enqueue.
type EnqueueRequest struct {
	Command     string
	TimeoutSecs int
	SubmittedBy string
}

var ErrTaskNotFound = errors.New("task not found")
