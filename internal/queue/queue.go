// Package queue is the durable task queue backing worker mode. Tasks live in
// SQLite so they survive restarts; workers claim them one at a time.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds a task and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := q.db.ExecContext(ctx, `
INSERT INTO task_queue(id, command, timeout_secs, status, submitted_by, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, req.Command, req.TimeoutSecs, StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest queued task for workerID and marks it running.
// Returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Task, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM task_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE task_queue
SET status = ?, started_at = ?, worker_id = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, command, timeout_secs, status, submitted_by, created_at, started_at, completed_at, worker_id, last_error, result;
`, StatusQueued, StatusRunning, now, workerID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	return task, nil
}

// Complete marks a task terminal, stores its result, and mirrors the row
// into task_log.
func (q *Queue) Complete(ctx context.Context, taskID string, status Status, result *Result, lastError *string) error {
	if taskID == "" {
		return fmt.Errorf("taskID is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = string(data)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		command     string
		submittedBy string
		createdAt   string
		workerID    sql.NullString
	)
	if err := tx.QueryRowContext(ctx, `
SELECT command, submitted_by, created_at, worker_id
FROM task_queue
WHERE id = ?;
`, taskID).Scan(&command, &submittedBy, &createdAt, &workerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load task for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx, `
UPDATE task_queue
SET status = ?, completed_at = ?, last_error = ?, result = ?
WHERE id = ?;
`, status, completedAt, lastError, resultJSON, taskID); err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO task_log(id, command, status, submitted_by, created_at, completed_at, worker_id, last_error, result)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, taskID, command, status, submittedBy, createdAt, completedAt, workerID, lastError, resultJSON); err != nil {
		return fmt.Errorf("insert task_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, taskID string) (*Task, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, command, timeout_secs, status, submitted_by, created_at, started_at, completed_at, worker_id, last_error, result
FROM task_queue
WHERE id = ?;
`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Depth returns the number of queued tasks.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_queue WHERE status = ?;`, StatusQueued).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var (
		t            Task
		statusS      string
		timeoutSecs  sql.NullInt64
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		workerID     sql.NullString
		lastError    sql.NullString
		resultS      sql.NullString
	)
	err := row.Scan(&t.ID, &t.Command, &timeoutSecs, &statusS, &t.SubmittedBy,
		&createdAtS, &startedAtS, &completedAtS, &workerID, &lastError, &resultS)
	if err != nil {
		return nil, err
	}

	t.Status = Status(statusS)
	if timeoutSecs.Valid {
		t.TimeoutSecs = int(timeoutSecs.Int64)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		t.CreatedAt = ts
	}
	if startedAtS.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			t.StartedAt = &ts
		}
	}
	if completedAtS.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			t.CompletedAt = &ts
		}
	}
	if workerID.Valid {
		t.WorkerID = &workerID.String
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}
	if resultS.Valid {
		var res Result
		if err := json.Unmarshal([]byte(resultS.String), &res); err == nil {
			t.Result = &res
		}
	}
	return &t, nil
}
