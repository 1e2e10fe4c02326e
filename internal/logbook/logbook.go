package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/task"
)

// FileName is the run history file inside the logs directory.
const FileName = "runs.log"

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists task results to a simple text file. It implements
// orchestrator.Observer.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	return &Logbook{path: path, clock: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.clock().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries along with the total
// number of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Observe records finished tasks and runs.
func (l *Logbook) Observe(ev orchestrator.Event) {
	if l == nil {
		return
	}
	switch ev.Kind {
	case orchestrator.EventTaskFinished:
		l.recordResult(ev.Result)
	case orchestrator.EventRunFinished:
		l.recordReport(ev.Report)
	}
}

func (l *Logbook) recordResult(res task.Result) {
	switch res.Outcome {
	case task.OutcomeSuccess:
		l.Info("%s ok in %s (%s) files=%d bytes=%d",
			res.TaskID, res.Duration.Round(time.Millisecond), res.Trigger,
			len(res.Summary.Files), res.Summary.TotalBytes())
	case task.OutcomeSkipped:
		l.Warn("%s skipped (%s): %v", res.TaskID, res.Trigger, res.Err)
	default:
		l.Error("%s failed after %s (%s): %v",
			res.TaskID, res.Duration.Round(time.Millisecond), res.Trigger, res.Err)
	}
}

func (l *Logbook) recordReport(report task.Report) {
	msg := fmt.Sprintf("run %s: %d ok, %d failed, %d skipped in %s",
		report.Trigger,
		report.Count(task.OutcomeSuccess),
		report.Count(task.OutcomeFailure),
		report.Count(task.OutcomeSkipped),
		report.Duration.Round(time.Millisecond))
	if report.Reloaded {
		msg += " (reloaded)"
	}
	if report.OK() {
		l.Info("%s", msg)
		return
	}
	l.Error("%s", msg)
}
