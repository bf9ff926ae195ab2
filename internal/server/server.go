// Package server exposes the service over HTTP: the execution websocket, a
// task enqueue/inspect API for worker mode, health, and an SSE event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/log"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/session"
)

// TaskQueuer is the slice of the queue the API exposes.
type TaskQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Get(ctx context.Context, taskID string) (*queue.Task, error)
	Depth(ctx context.Context) (int, error)
}

// Server is the HTTP front of the service.
type Server struct {
	cfg       *config.Config
	sessions  *session.Manager
	queue     TaskQueuer
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// New creates a Server.
func New(cfg *config.Config, sessions *session.Manager, q TaskQueuer, hub *events.Hub) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		queue:    q,
		hub:      hub,
		logger:   log.WithComponent("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled. Blocking.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.cfg.Server.Listen,
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: websocket sessions and SSE streams are long-lived.
	}

	s.logger.Info("server starting", "listen", s.cfg.Server.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	r.Get("/events", s.handleEvents)
	r.Post("/tasks", s.handleEnqueueTask)
	r.Get("/tasks/{taskID}", s.handleGetTask)

	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.sessions.HandleConn(r.Context(), conn)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
