package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assetflow/internal/task"
)

// DefaultDebounce is the quiet period that ends a burst of changes.
const DefaultDebounce = 150 * time.Millisecond

// State is the router's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateWatching  State = "watching"
	StateTriggered State = "triggered"
)

// Runner executes build requests.
type Runner interface {
	Run(ctx context.Context, req task.Request) (task.Report, error)
}

// Notifier reloads connected browsers.
type Notifier interface {
	Notify(reason string)
}

// Logger is the narrow logging contract used by the router.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Router matches change events against rules and drives the runner. All
// routing state lives on the goroutine running Run.
type Router struct {
	root     string
	source   Source
	runner   Runner
	notifier Notifier
	rules    []Rule
	ignore   *Ignore
	debounce time.Duration
	logger   Logger
	onState  func(State)
	onRun    func(task.Report, error)

	mu    sync.RWMutex
	state State
}

// Option customizes a Router.
type Option func(*Router)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithNotifier sets the reload notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Router) {
		r.notifier = n
	}
}

// WithIgnore replaces the ignore matcher.
func WithIgnore(ig *Ignore) Option {
	return func(r *Router) {
		if ig != nil {
			r.ignore = ig
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(r *Router) {
		r.onState = fn
	}
}

// WithRunHook is called after every run the router started.
func WithRunHook(fn func(task.Report, error)) Option {
	return func(r *Router) {
		r.onRun = fn
	}
}

// NewRouter wires a router. root anchors rule patterns.
func NewRouter(root string, source Source, runner Runner, rules []Rule, opts ...Option) (*Router, error) {
	if source == nil {
		return nil, fmt.Errorf("watcher: source is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("watcher: runner is required")
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignore, err := NewIgnore()
	if err != nil {
		return nil, err
	}
	r := &Router{
		root:     absRoot,
		source:   source,
		runner:   runner,
		rules:    append([]Rule{}, rules...),
		ignore:   ignore,
		debounce: DefaultDebounce,
		logger:   nopLogger{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State returns the current state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Router) setState(s State) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	r.mu.Unlock()
	if changed && r.onState != nil {
		r.onState(s)
	}
}

// pending accumulates what a burst of events asks for.
type pending struct {
	tasks  map[string]bool
	paths  map[string]bool
	notify bool
	reload bool
}

func (p *pending) add(rel string, m Match) {
	if p.tasks == nil {
		p.tasks = map[string]bool{}
		p.paths = map[string]bool{}
	}
	for _, id := range m.Tasks {
		p.tasks[id] = true
	}
	p.paths[rel] = true
	p.notify = p.notify || m.Notify
	p.reload = p.reload || m.Reload
}

func (p *pending) empty() bool {
	return len(p.paths) == 0
}

type runOutcome struct {
	report task.Report
	err    error
	notify bool
	reload bool
	paths  []string
}

// Run subscribes to every directory a rule can match, then routes events
// until ctx is canceled. An in-flight run is awaited before returning.
func (r *Router) Run(ctx context.Context) error {
	for _, dir := range r.watchDirs() {
		if err := r.source.Watch(dir); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", dir, err)
		}
	}
	r.setState(StateWatching)
	defer r.setState(StateIdle)

	var (
		queued  pending
		timer   *time.Timer
		fire    <-chan time.Time
		running bool
		done    = make(chan runOutcome, 1)
		events  = r.source.Events()
		errs    = r.source.Errors()
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire = nil, nil
	}
	dispatch := func() {
		batch := queued
		queued = pending{}
		if batch.empty() {
			r.setState(StateWatching)
			return
		}
		paths := sortedSet(batch.paths)
		if len(batch.tasks) == 0 {
			if batch.reload && r.notifier != nil {
				r.notifier.Notify("changed " + strings.Join(paths, ", "))
			}
			r.setState(StateWatching)
			return
		}
		targets := sortedSet(batch.tasks)
		req := task.Request{Targets: targets, Trigger: task.FileChange(paths...), Expand: task.ExpandDependents}
		r.logger.Printf("watch: %s -> %s", strings.Join(paths, ", "), strings.Join(targets, ", "))
		running = true
		r.setState(StateTriggered)
		go func() {
			report, err := r.runner.Run(ctx, req)
			done <- runOutcome{report: report, err: err, notify: batch.notify, reload: batch.reload, paths: paths}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			if running {
				<-done
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				stopTimer()
				if running {
					<-done
				}
				return nil
			}
			rel, match, ok := r.route(ev)
			if !ok {
				continue
			}
			queued.add(rel, match)
			r.setState(StateTriggered)
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.debounce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			if running {
				continue
			}
			dispatch()
		case out := <-done:
			running = false
			r.finish(out)
			if !queued.empty() && timer == nil {
				dispatch()
			} else if queued.empty() {
				r.setState(StateWatching)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Printf("watch: source error: %v", err)
		}
	}
}

func (r *Router) finish(out runOutcome) {
	if out.err != nil {
		r.logger.Printf("watch: run failed: %v", out.err)
	}
	if r.onRun != nil {
		r.onRun(out.report, out.err)
	}
	if !out.notify || out.report.Reloaded || r.notifier == nil {
		return
	}
	if out.reload || out.report.Count(task.OutcomeSuccess) > 0 {
		r.notifier.Notify("changed " + strings.Join(out.paths, ", "))
	}
}

func (r *Router) route(ev Event) (string, Match, bool) {
	if ev.Op == OpChmod {
		return "", Match{}, false
	}
	rel, err := filepath.Rel(r.root, ev.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", Match{}, false
	}
	rel = filepath.ToSlash(rel)
	if r.ignore.Match(rel) {
		return "", Match{}, false
	}
	match, ok := Route(r.rules, rel)
	return rel, match, ok
}

// watchDirs lists the directories to subscribe to, dropping any that lie
// inside another.
func (r *Router) watchDirs() []string {
	var bases []string
	for _, rule := range r.rules {
		bases = append(bases, rule.Bases()...)
	}
	sort.Strings(bases)
	var dirs []string
	for _, base := range bases {
		dir := filepath.Join(r.root, filepath.FromSlash(base))
		covered := false
		for _, kept := range dirs {
			if rel, err := filepath.Rel(kept, dir); err == nil && !strings.HasPrefix(rel, "..") {
				covered = true
				break
			}
		}
		if !covered {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
