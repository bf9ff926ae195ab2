package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/droverhq/drover/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".stalled"):
		typeStyle = theme.Highlight
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = theme.StatusRunning
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))

	scope := e.SessionID
	if scope == "" {
		scope = e.TaskID
	}
	scope = theme.Dim.Render(fmt.Sprintf("%-10s", shorten(scope, 10)))

	return fmt.Sprintf("%s %s %s %s", ts, typeName, scope, eventSummary(e, theme))
}

// eventSummary pulls a one-line description out of the event payload.
func eventSummary(e events.Event, theme Theme) string {
	var payload map[string]any
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}

	for _, key := range []string{"error", "command", "status"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return shorten(v, 40)
		}
	}
	if code, ok := payload["exit_code"].(float64); ok {
		return theme.Dim.Render(fmt.Sprintf("exit %d", int(code)))
	}
	if pid, ok := payload["pid"].(float64); ok {
		return theme.Dim.Render(fmt.Sprintf("pid %d", int(pid)))
	}
	return ""
}
