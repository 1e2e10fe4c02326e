package orchestrator

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/assetflow/internal/task"
)

// ErrStateNotFound is returned when no run has been recorded yet.
var ErrStateNotFound = errors.New("orchestrator: run state not found")

// RunStore persists the snapshot of the last finished run.
type RunStore interface {
	Load() (RunSnapshot, error)
	Save(RunSnapshot) error
}

// RunSnapshot is the serializable form of a report.
type RunSnapshot struct {
	Trigger   string         `json:"trigger"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Reloaded  bool           `json:"reloaded"`
	Tasks     []TaskSnapshot `json:"tasks"`
}

// TaskSnapshot records one task of the last run.
type TaskSnapshot struct {
	ID       string        `json:"id"`
	Outcome  task.Outcome  `json:"outcome"`
	Trigger  string        `json:"trigger"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Files    int           `json:"files"`
	Bytes    int64         `json:"bytes"`
}

// Snapshot converts a report for persistence.
func Snapshot(report task.Report) RunSnapshot {
	snap := RunSnapshot{
		Trigger:   report.Trigger.String(),
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
		Reloaded:  report.Reloaded,
		Tasks:     make([]TaskSnapshot, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		entry := TaskSnapshot{
			ID:       res.TaskID,
			Outcome:  res.Outcome,
			Trigger:  res.Trigger.String(),
			Duration: res.Duration,
			Files:    len(res.Summary.Files),
			Bytes:    res.Summary.TotalBytes(),
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		snap.Tasks = append(snap.Tasks, entry)
	}
	return snap
}

// Repository stores the last run snapshot as JSON in the state directory.
type Repository struct {
	path string
}

// NewRepository creates a repository writing to stateDir/last-run.json.
func NewRepository(stateDir string) *Repository {
	return &Repository{path: filepath.Join(stateDir, "last-run.json")}
}

// Load reads the persisted snapshot if present.
func (r *Repository) Load() (RunSnapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RunSnapshot{}, ErrStateNotFound
		}
		return RunSnapshot{}, err
	}
	var snap RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return RunSnapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename.
func (r *Repository) Save(snap RunSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
