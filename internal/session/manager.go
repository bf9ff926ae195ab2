package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/log"
	"github.com/droverhq/drover/internal/protocol"
)

// Manager admits connections up to the configured session limit and runs one
// Session per connection. Sessions share nothing but the timing store.
type Manager struct {
	cfg      *config.Config
	planner  TimeoutPlanner
	recorder TimingRecorder
	spawner  Spawner
	hub      *events.Hub
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg *config.Config, planner TimeoutPlanner, recorder TimingRecorder, spawner Spawner, hub *events.Hub) *Manager {
	return &Manager{
		cfg:      cfg,
		planner:  planner,
		recorder: recorder,
		spawner:  spawner,
		hub:      hub,
		logger:   log.WithComponent("session"),
		sessions: make(map[string]*Session),
	}
}

// HandleConn runs the protocol over conn until it closes. Connections over
// the session limit are refused with a protocol error.
func (m *Manager) HandleConn(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if len(m.sessions) >= m.cfg.Server.MaxSessions {
		m.mu.Unlock()
		m.logger.Warn("refusing connection, session limit reached", "limit", m.cfg.Server.MaxSessions)
		if data, err := protocol.Encode(protocol.NewError(nil, protocol.CodeSessionLimit, "session limit reached")); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = conn.Close()
		return
	}
	sess := newSession(conn, m.planner, m.recorder, m.spawner, m.hub, m.cfg)
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.hub.Publish(events.SessionStarted, events.Scope{SessionID: sess.ID}, nil)

	sess.Run(ctx)

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
