package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/assetflow/internal/task"
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type rowStatus string

const (
	rowIdle    rowStatus = "idle"
	rowQueued  rowStatus = "queued"
	rowRunning rowStatus = "running"
	rowOK      rowStatus = "ok"
	rowFailed  rowStatus = "failed"
	rowSkipped rowStatus = "skipped"
)

type taskRow struct {
	id       string
	status   rowStatus
	started  time.Time
	duration time.Duration
	files    int
	bytes    int64
	err      string
}

func (r *taskRow) queue() {
	r.status = rowQueued
	r.err = ""
}

func (r *taskRow) start(at time.Time) {
	r.status = rowRunning
	r.started = at
}

func (r *taskRow) finish(res task.Result) {
	r.duration = res.Duration
	r.err = ""
	switch res.Outcome {
	case task.OutcomeSuccess:
		r.status = rowOK
		r.files = len(res.Summary.Files)
		r.bytes = res.Summary.TotalBytes()
	case task.OutcomeSkipped:
		r.status = rowSkipped
	default:
		r.status = rowFailed
		if res.Err != nil {
			r.err = res.Err.Error()
		}
	}
}

func (a *App) renderTasks() string {
	if len(a.order) == 0 {
		return detailTextStyle.Render("No tasks declared.")
	}
	nameWidth := 0
	for _, id := range a.order {
		nameWidth = max(nameWidth, len(id))
	}
	lines := make([]string, 0, len(a.order))
	for _, id := range a.order {
		lines = append(lines, a.renderTaskLine(a.rows[id], nameWidth))
		if row := a.rows[id]; row.status == rowFailed && row.err != "" {
			lines = append(lines, detailTextStyle.Render("  "+firstLine(row.err)))
		}
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderTaskLine(row *taskRow, nameWidth int) string {
	indicator := " "
	if row.status == rowRunning {
		indicator = a.spinner.View()
	}
	label := labelStyleForState(string(row.status)).Render(fmt.Sprintf("%-8s", friendlyLabel(string(row.status))))
	line := fmt.Sprintf("%s %-*s  %s", indicator, nameWidth, row.id, label)
	switch row.status {
	case rowOK:
		line += detailTextStyle.Render(fmt.Sprintf("  %s · %d file(s) · %s", row.duration.Round(time.Millisecond), row.files, task.FormatBytes(row.bytes)))
	case rowFailed:
		line += detailTextStyle.Render(fmt.Sprintf("  %s", row.duration.Round(time.Millisecond)))
	}
	return line
}

func labelStyleForState(state string) lipgloss.Style {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ok", "watching":
		return labelStyleReady
	case "failed":
		return labelStyleBlocked
	case "running", "triggered":
		return labelStyleRunning
	case "queued":
		return labelStyleQueued
	case "skipped":
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
