package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/assetflow/internal/task"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// printReport writes one line per task, followed by the written files of
// successful tasks and a summary line.
func printReport(w io.Writer, report task.Report) {
	width := 0
	for _, res := range report.Results {
		width = max(width, len(res.TaskID))
	}
	for _, res := range report.Results {
		name := fmt.Sprintf("%-*s", width, res.TaskID)
		switch res.Outcome {
		case task.OutcomeSuccess:
			fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("✓"), name,
				detailStyle.Render(res.Duration.Round(time.Millisecond).String()))
			for _, f := range res.Summary.Files {
				fmt.Fprintf(w, "    %s %s\n", f.Path, detailStyle.Render(task.FormatBytes(f.Bytes)))
			}
		case task.OutcomeSkipped:
			fmt.Fprintf(w, "%s %s %s\n", skippedStyle.Render("-"), skippedStyle.Render(name), skippedStyle.Render("skipped"))
		default:
			fmt.Fprintf(w, "%s %s %s\n", errorStyle.Render("✗"), name, errorStyle.Render(errorText(res.Err)))
		}
	}
	fmt.Fprintln(w, summaryLine(report))
}

func summaryLine(report task.Report) string {
	line := fmt.Sprintf("%d ok, %d failed, %d skipped in %s",
		report.Count(task.OutcomeSuccess),
		report.Count(task.OutcomeFailure),
		report.Count(task.OutcomeSkipped),
		report.Duration.Round(time.Millisecond),
	)
	if report.OK() {
		return okStyle.Render(line)
	}
	return errorStyle.Render(line)
}

func errorText(err error) string {
	if err == nil {
		return "failed"
	}
	text := strings.TrimSpace(err.Error())
	lines := strings.Split(text, "\n")
	if len(lines) > 6 {
		lines = append(lines[:6], fmt.Sprintf("… %d more line(s)", len(lines)-6))
	}
	return strings.Join(lines, "\n    ")
}
