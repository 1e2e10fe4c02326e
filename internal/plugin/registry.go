package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is the per-tool configuration handed to factories.
type Config struct {
	// Argv is the command template from the tools section.
	Argv []string
	// Dir is the working directory for external commands.
	Dir string
	// Optional tools fall back to Copy when no command is configured.
	Optional bool
}

// Factory constructs a plugin from its configuration.
type Factory func(Config) (Plugin, error)

// LinterFactory constructs a linter from its configuration.
type LinterFactory func(Config) (Linter, error)

// Registry maps tool names to factories. Names without a registered factory
// resolve to an Exec plugin built from the configured argv.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	linters   map[string]LinterFactory
	lintOpts  []LintOption
}

// NewRegistry returns an empty registry. lintOpts apply to every linter
// built from an argv template.
func NewRegistry(lintOpts ...LintOption) *Registry {
	return &Registry{
		factories: map[string]Factory{},
		linters:   map[string]LinterFactory{},
		lintOpts:  lintOpts,
	}
}

// Register installs a plugin factory. Returns an error if the name exists.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugin: %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// RegisterLinter installs a linter factory.
func (r *Registry) RegisterLinter(name string, factory LinterFactory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.linters[name]; exists {
		return fmt.Errorf("plugin: linter %s already registered", name)
	}
	r.linters[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve builds the plugin for name.
func (r *Registry) Resolve(name string, cfg Config) (Plugin, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if ok {
		p, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin: build %s: %w", name, err)
		}
		return p, nil
	}
	if len(cfg.Argv) == 0 {
		if cfg.Optional {
			return Copy(name), nil
		}
		return nil, fmt.Errorf("plugin: no command configured for %s", name)
	}
	return NewExec(name, cfg.Argv, WithDir(cfg.Dir))
}

// ResolveLinter builds the linter for name. A linter without a registered
// factory or configured command is a no-op.
func (r *Registry) ResolveLinter(name string, cfg Config) (Linter, error) {
	r.mu.RLock()
	factory, ok := r.linters[name]
	r.mu.RUnlock()
	if ok {
		l, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin: build linter %s: %w", name, err)
		}
		return l, nil
	}
	if len(cfg.Argv) == 0 {
		return LintFunc{Label: name}, nil
	}
	e, err := NewExec(name, cfg.Argv, WithDir(cfg.Dir))
	if err != nil {
		return nil, err
	}
	return NewLinter(e, r.lintOpts...), nil
}

// Names returns the registered plugin and linter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories)+len(r.linters))
	for name := range r.factories {
		names = append(names, name)
	}
	for name := range r.linters {
		if _, dup := r.factories[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
