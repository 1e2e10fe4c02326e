package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/task"
)

// Logger is the narrow logging contract used by pipelines.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Pipeline is a task action made of ordered stages.
type Pipeline struct {
	taskID  string
	store   *artifact.Store
	stages  []Stage
	workers int
	logger  Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the per-file worker pool of transform and lint stages.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds the pipeline for taskID. Empty stages (from When) are dropped.
func New(taskID string, store *artifact.Store, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{taskID: taskID, store: store, workers: 4, logger: nopLogger{}}
	for _, stage := range stages {
		if !stage.isZero() {
			p.stages = append(p.stages, stage)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Describe lists the stage names in order.
func (p *Pipeline) Describe() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.name
	}
	return names
}

// Execute runs every stage, then commits the staged outputs. A stage error
// becomes a PluginFailure and nothing is written.
func (p *Pipeline) Execute(ctx context.Context) (task.Summary, error) {
	bundle := newBundle(p.store.Root(), p.workers)
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return task.Summary{}, err
		}
		if err := stage.apply(ctx, bundle); err != nil {
			var fsErr *task.FileSystemError
			if errors.As(err, &fsErr) {
				return task.Summary{}, err
			}
			return task.Summary{}, &task.PluginFailure{TaskID: p.taskID, Stage: stage.name, Cause: err}
		}
	}
	summary := task.Summary{Title: bundle.title}
	if len(bundle.order) == 0 {
		return summary, nil
	}
	files := make([]artifact.File, 0, len(bundle.order))
	for _, path := range bundle.order {
		data := bundle.staged[path]
		files = append(files, artifact.File{Path: path, Data: data})
		summary.Files = append(summary.Files, task.FileStat{Path: filepath.ToSlash(path), Bytes: int64(len(data))})
	}
	if err := p.store.Commit(p.taskID, files); err != nil {
		return task.Summary{}, fmt.Errorf("pipeline %s: commit: %w", p.taskID, err)
	}
	p.logger.Printf("%s: wrote %d file(s), %d bytes", p.taskID, len(files), summary.TotalBytes())
	return summary, nil
}
