package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/droverhq/drover/internal/events"
)

// TaskState is the TUI-side view of one queued task, reconstructed from the
// task.* event stream.
type TaskState struct {
	ID           string
	Command      string
	Status       string
	ExitCode     int
	DurationSecs float64
	LastError    string
	UpdatedAt    time.Time
	FirstSeen    time.Time
}

func newTaskTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Task", Width: 10},
			{Title: "Status", Width: 10},
			{Title: "Duration", Width: 9},
			{Title: "Command", Width: 40},
		}),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("29")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func updateTaskState(tasks map[string]*TaskState, e events.Event) {
	if e.TaskID == "" {
		return
	}

	t, ok := tasks[e.TaskID]
	if !ok {
		t = &TaskState{ID: e.TaskID, FirstSeen: e.At}
		tasks[e.TaskID] = t
	}
	t.UpdatedAt = e.At

	var payload struct {
		Command      string  `json:"command"`
		Status       string  `json:"status"`
		ExitCode     int     `json:"exit_code"`
		DurationSecs float64 `json:"duration_secs"`
		Error        string  `json:"error"`
	}
	_ = json.Unmarshal(e.Data, &payload)
	if payload.Command != "" {
		t.Command = payload.Command
	}

	switch e.Type {
	case events.TaskEnqueued:
		t.Status = "queued"
	case events.TaskStarted:
		t.Status = "running"
	case events.TaskCompleted, events.TaskFailed:
		t.Status = payload.Status
		if t.Status == "" {
			t.Status = "failed"
		}
		t.ExitCode = payload.ExitCode
		t.DurationSecs = payload.DurationSecs
		t.LastError = payload.Error
	}
}

func taskRows(tasks map[string]*TaskState) []table.Row {
	ordered := make([]*TaskState, 0, len(tasks))
	for _, t := range tasks {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
	})

	rows := make([]table.Row, 0, len(ordered))
	for _, t := range ordered {
		rows = append(rows, table.Row{
			statusGlyph(t.Status),
			shorten(t.ID, 10),
			t.Status,
			formatTaskDuration(t),
			shorten(t.Command, 40),
		})
	}
	return rows
}

func statusGlyph(status string) string {
	switch status {
	case "succeeded":
		return "✓"
	case "failed", "timed_out":
		return "✗"
	case "running":
		return "▶"
	default:
		return "·"
	}
}

func formatTaskDuration(t *TaskState) string {
	if t.DurationSecs > 0 {
		return fmt.Sprintf("%.1fs", t.DurationSecs)
	}
	if t.Status == "running" {
		return formatDuration(time.Since(t.UpdatedAt))
	}
	return "-"
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

func renderTasks(tbl table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	title := theme.Title.Render(fmt.Sprintf("TASKS (%d)", count))
	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No tasks seen yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, tbl.View())
	return theme.Border.Width(innerWidth).Render(content)
}
