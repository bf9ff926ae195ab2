package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/droverhq/drover/internal/events"
)

// SessionState is the TUI-side view of one websocket execution session.
type SessionState struct {
	ID        string
	PID       int
	Status    string
	Stalled   bool
	Detail    string
	UpdatedAt time.Time
	Closed    bool
}

func updateSessionState(sessions map[string]*SessionState, e events.Event) {
	if e.SessionID == "" {
		return
	}

	s, ok := sessions[e.SessionID]
	if !ok {
		s = &SessionState{ID: e.SessionID, Status: "idle"}
		sessions[e.SessionID] = s
	}
	s.UpdatedAt = e.At

	switch e.Type {
	case events.SessionStarted:
		s.Status = "idle"

	case events.ProcessStarted:
		var p struct {
			PID int `json:"pid"`
		}
		_ = json.Unmarshal(e.Data, &p)
		s.PID = p.PID
		s.Status = "running"
		s.Stalled = false

	case events.ProcessStalled:
		var p struct {
			NoOutputForSecs float64 `json:"no_output_for"`
		}
		_ = json.Unmarshal(e.Data, &p)
		s.Stalled = true
		s.Detail = fmt.Sprintf("no output for %.0fs", p.NoOutputForSecs)

	case events.ProcessCompleted:
		var p struct {
			ExitCode     int     `json:"exit_code"`
			DurationSecs float64 `json:"duration_secs"`
		}
		_ = json.Unmarshal(e.Data, &p)
		s.Status = "completed"
		s.Stalled = false
		s.Detail = fmt.Sprintf("exit %d in %.1fs", p.ExitCode, p.DurationSecs)

	case events.ProcessFailed:
		var p struct {
			Error    string `json:"error"`
			TimedOut bool   `json:"timed_out"`
		}
		_ = json.Unmarshal(e.Data, &p)
		if p.TimedOut {
			s.Status = "timed_out"
		} else {
			s.Status = "failed"
		}
		s.Stalled = false
		s.Detail = p.Error

	case events.SessionClosed:
		s.Closed = true
	}
}

// pruneSessions drops closed sessions once they have been visible briefly.
func pruneSessions(sessions map[string]*SessionState) {
	for id, s := range sessions {
		if s.Closed && time.Since(s.UpdatedAt) > 10*time.Second {
			delete(sessions, id)
		}
	}
}

func renderSessions(sessions map[string]*SessionState, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("SESSIONS (%d)", len(sessions)))

	if len(sessions) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No active sessions"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	ordered := make([]*SessionState, 0, len(sessions))
	for _, s := range sessions {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
	})

	var lines []string
	for i, s := range ordered {
		if i >= 6 {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  … %d more", len(ordered)-i)))
			break
		}
		lines = append(lines, formatSession(s, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatSession(s *SessionState, theme Theme) string {
	var statusStyle lipgloss.Style
	switch s.Status {
	case "running":
		statusStyle = theme.StatusRunning
	case "completed":
		statusStyle = theme.StatusOK
	case "failed", "timed_out":
		statusStyle = theme.StatusFailed
	default:
		statusStyle = theme.StatusQueued
	}

	status := s.Status
	if s.Stalled {
		status += " (stalled)"
		statusStyle = theme.Highlight
	}
	if s.Closed {
		status = "closed"
		statusStyle = theme.Dim
	}

	line := fmt.Sprintf("%s  %-20s", shorten(s.ID, 10), statusStyle.Render(status))
	if s.PID != 0 {
		line += theme.Dim.Render(fmt.Sprintf(" pid %d", s.PID))
	}
	if s.Detail != "" {
		line += "  " + theme.Dim.Render(shorten(s.Detail, 40))
	}
	return line
}
