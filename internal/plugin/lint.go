package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Linter checks an asset without changing it.
type Linter interface {
	Name() string
	Lint(ctx context.Context, in Asset) error
}

// Logger is the narrow logging contract used for lint warnings.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// LintError carries the findings of a failed lint run.
type LintError struct {
	Tool   string
	File   string
	Output string
}

func (e *LintError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %s has lint errors", e.Tool, e.File)
	}
	return fmt.Sprintf("%s: %s has lint errors\n%s", e.Tool, e.File, out)
}

// ExecLinter runs an external linter per asset. A non-zero exit is a lint
// failure.
type ExecLinter struct {
	exec        *Exec
	failOnError bool
	logger      Logger
}

// LintOption customizes an ExecLinter.
type LintOption func(*ExecLinter)

// WarnOnly reports findings through the logger instead of failing.
func WarnOnly() LintOption {
	return func(l *ExecLinter) {
		l.failOnError = false
	}
}

// WithLintLogger sets the logger used for warnings.
func WithLintLogger(logger Logger) LintOption {
	return func(l *ExecLinter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLinter wraps an Exec command as a Linter.
func NewLinter(e *Exec, opts ...LintOption) *ExecLinter {
	l := &ExecLinter{exec: e, failOnError: true, logger: nopLogger{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the linter name.
func (l *ExecLinter) Name() string { return l.exec.Name() }

// Lint runs the linter for one asset.
func (l *ExecLinter) Lint(ctx context.Context, in Asset) error {
	_, err := l.exec.run(ctx, in)
	if err == nil {
		return nil
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) || ctx.Err() != nil {
		return err
	}
	lintErr := &LintError{Tool: l.exec.Name(), File: in.Source, Output: execErr.Stdout + execErr.Stderr}
	if !l.failOnError {
		l.logger.Printf("lint warning: %v", lintErr)
		return nil
	}
	return lintErr
}

// LintFunc adapts a function into a Linter.
type LintFunc struct {
	Label string
	Fn    func(ctx context.Context, in Asset) error
}

// Name returns the label.
func (f LintFunc) Name() string { return f.Label }

// Lint calls the wrapped function.
func (f LintFunc) Lint(ctx context.Context, in Asset) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, in)
}
