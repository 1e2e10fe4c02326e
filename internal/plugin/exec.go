package plugin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecError reports a failed external tool invocation.
type ExecError struct {
	Tool   string
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Tool, e.Err, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Exec runs an external command per asset. The asset is written to the
// command's stdin and stdout replaces the asset contents.
type Exec struct {
	name string
	argv []string
	dir  string
	env  []string
}

// ExecOption customizes an Exec plugin.
type ExecOption func(*Exec)

// WithDir sets the working directory of the command.
func WithDir(dir string) ExecOption {
	return func(e *Exec) {
		e.dir = dir
	}
}

// WithEnv appends environment variables in KEY=VALUE form.
func WithEnv(env ...string) ExecOption {
	return func(e *Exec) {
		e.env = append(e.env, env...)
	}
}

// NewExec builds an Exec plugin. argv is a template: {file}, {dir} and
// {name} expand to the asset's source path, source directory and output
// name.
func NewExec(name string, argv []string, opts ...ExecOption) (*Exec, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("plugin: %s has no command", name)
	}
	e := &Exec{name: name, argv: append([]string{}, argv...)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns the tool name.
func (e *Exec) Name() string { return e.name }

// Argv returns the unexpanded command template.
func (e *Exec) Argv() []string { return append([]string{}, e.argv...) }

// Transform runs the command for one asset.
func (e *Exec) Transform(ctx context.Context, in Asset) (Asset, error) {
	stdout, err := e.run(ctx, in)
	if err != nil {
		return Asset{}, err
	}
	in.Data = stdout
	return in, nil
}

func (e *Exec) run(ctx context.Context, in Asset) ([]byte, error) {
	args := expandArgs(e.argv, in)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.dir
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}
	cmd.Stdin = bytes.NewReader(in.Data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ExecError{Tool: e.name, Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func expandArgs(argv []string, in Asset) []string {
	replacer := strings.NewReplacer(
		"{file}", in.Source,
		"{dir}", filepath.Dir(in.Source),
		"{name}", in.Name(),
	)
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = replacer.Replace(arg)
	}
	return out
}
