package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/queue"
)

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
	QueueDepth    int    `json:"queue_depth"`
}

// EnqueueTaskRequest is the POST /tasks body.
type EnqueueTaskRequest struct {
	Command     string `json:"command"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// EnqueueTaskResponse is the POST /tasks reply.
type EnqueueTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse is the GET /tasks/{taskID} body.
type TaskResponse struct {
	TaskID      string        `json:"task_id"`
	Command     string        `json:"command"`
	Status      string        `json:"status"`
	SubmittedBy string        `json:"submitted_by"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   *string       `json:"last_error,omitempty"`
	Result      *queue.Result `json:"result,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Sessions:      s.sessions.Count(),
		QueueDepth:    depth,
	})
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	submittedBy := req.SubmittedBy
	if submittedBy == "" {
		submittedBy = "api"
	}

	id, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Command:     req.Command,
		TimeoutSecs: req.TimeoutSecs,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		s.logger.Error("enqueue failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.hub.Publish(events.TaskEnqueued, events.Scope{TaskID: id}, map[string]string{"command": req.Command})
	s.logger.Info("task enqueued", "task_id", id, "submitted_by", submittedBy)
	s.writeJSON(w, http.StatusAccepted, EnqueueTaskResponse{TaskID: id, Status: string(queue.StatusQueued)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.queue.Get(r.Context(), taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("task lookup failed", "task_id", taskID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "task lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, TaskResponse{
		TaskID:      task.ID,
		Command:     task.Command,
		Status:      string(task.Status),
		SubmittedBy: task.SubmittedBy,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		LastError:   task.LastError,
		Result:      task.Result,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
