package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assetflow/internal/graph"
	"github.com/kingrea/assetflow/internal/scheduler"
	"github.com/kingrea/assetflow/internal/task"
)

// Orchestrator runs requests against a validated graph.
type Orchestrator struct {
	graph        *graph.Graph
	logger       Logger
	notifier     Notifier
	observers    []Observer
	clock        func() time.Time
	maxParallel  int
	cleaner      Cleaner
	cleanTargets []string
	repo         RunStore

	mu    sync.Mutex
	slots map[string]*slot
}

// Option customizes the orchestrator instance.
type Option func(*Orchestrator)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier sets the reload notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithObservers appends run observers.
func WithObservers(observers ...Observer) Option {
	return func(o *Orchestrator) {
		for _, obs := range observers {
			if obs != nil {
				o.observers = append(o.observers, obs)
			}
		}
	}
}

// WithMaxParallel caps concurrently running tasks. Zero means unlimited.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxParallel = n
		}
	}
}

// WithClean configures the directories Clean removes.
func WithClean(cleaner Cleaner, targets ...string) Option {
	return func(o *Orchestrator) {
		o.cleaner = cleaner
		o.cleanTargets = append([]string{}, targets...)
	}
}

// WithRunStore persists a snapshot of every finished run.
func WithRunStore(repo RunStore) Option {
	return func(o *Orchestrator) {
		o.repo = repo
	}
}

// New wires an orchestrator to a task graph.
func New(g *graph.Graph, opts ...Option) (*Orchestrator, error) {
	if g == nil {
		return nil, fmt.Errorf("orchestrator: task graph is required")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		graph:  g,
		logger: nopLogger{},
		clock:  time.Now,
		slots:  map[string]*slot{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Graph returns the task graph the orchestrator runs.
func (o *Orchestrator) Graph() *graph.Graph {
	return o.graph
}

// Run executes the plan for req. The report is returned even when tasks
// failed; in that case the error is a *task.PartialFailureError.
func (o *Orchestrator) Run(ctx context.Context, req task.Request) (task.Report, error) {
	plan, err := o.graph.Resolve(req)
	if err != nil {
		return task.Report{Trigger: req.Trigger}, err
	}
	return o.runPlan(ctx, plan, req)
}

// Clean removes the configured generated output directories. A failure is
// a *task.FileSystemError and stops the clean.
func (o *Orchestrator) Clean(ctx context.Context) error {
	if o.cleaner == nil {
		return nil
	}
	for _, target := range o.cleanTargets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.cleaner.RemoveAll(target); err != nil {
			var fsErr *task.FileSystemError
			if errors.As(err, &fsErr) {
				return err
			}
			return &task.FileSystemError{Op: "clean", Path: target, Err: err}
		}
		o.logger.Printf("clean: removed %s", target)
	}
	return nil
}

// Build cleans the outputs, then runs targets with their predecessors.
func (o *Orchestrator) Build(ctx context.Context, targets ...string) (task.Report, error) {
	if err := o.Clean(ctx); err != nil {
		return task.Report{Trigger: task.Manual()}, err
	}
	return o.Run(ctx, task.Request{Targets: targets, Trigger: task.Manual(), Expand: task.ExpandPredecessors})
}

func (o *Orchestrator) runPlan(ctx context.Context, plan graph.Plan, req task.Request) (task.Report, error) {
	started := o.clock()
	report := task.Report{Trigger: req.Trigger, StartedAt: started}
	o.emit(Event{Kind: EventRunStarted, Trigger: req.Trigger, Tasks: plan.IDs(), At: started})
	if plan.Len() == 0 {
		report.Duration = o.clock().Sub(started)
		o.emit(Event{Kind: EventRunFinished, Trigger: req.Trigger, Report: report, At: o.clock()})
		return report, nil
	}

	triggers := triggersFor(plan, req)
	sched := scheduler.New(plan)
	finished := make(map[string]task.Outcome, plan.Len())
	results := make(map[string]task.Result, plan.Len())
	running := map[string]bool{}
	done := make(chan task.Result)
	var fatal error

	finish := func(res task.Result) {
		finished[res.TaskID] = res.Outcome
		results[res.TaskID] = res
		o.emit(Event{Kind: EventTaskFinished, TaskID: res.TaskID, Trigger: res.Trigger, Result: res, At: o.clock()})
	}

	for len(finished) < plan.Len() {
		if fatal == nil && ctx.Err() == nil {
			batch, err := sched.Runnable(scheduler.RunnableRequest{
				Finished:    finished,
				Running:     keys(running),
				MaxParallel: o.maxParallel,
			})
			if err != nil {
				fatal = err
			} else {
				if len(batch.Blocked) > 0 {
					for _, id := range sortedKeys(batch.Blocked) {
						blocker := batch.Blocked[id]
						finish(task.Result{
							TaskID:    id,
							Outcome:   task.OutcomeSkipped,
							Err:       fmt.Errorf("skipped: dependency %s did not succeed", blocker),
							Trigger:   triggers[id],
							StartedAt: o.clock(),
						})
						o.logger.Printf("task %s skipped: %s did not succeed", id, blocker)
					}
					continue
				}
				for _, t := range batch.Tasks {
					running[t.ID] = true
					trigger := triggers[t.ID]
					o.emit(Event{Kind: EventTaskStarted, TaskID: t.ID, Trigger: trigger, At: o.clock()})
					go func(t task.Task, trigger task.Trigger) {
						done <- o.execute(ctx, t, trigger)
					}(t, trigger)
				}
			}
		}
		if len(running) == 0 {
			reason := "run aborted"
			switch {
			case fatal != nil:
				reason = fmt.Sprintf("run aborted: %v", fatal)
			case ctx.Err() != nil:
				reason = fmt.Sprintf("run canceled: %v", ctx.Err())
			}
			for _, id := range plan.IDs() {
				if _, ok := finished[id]; ok {
					continue
				}
				finish(task.Result{TaskID: id, Outcome: task.OutcomeSkipped, Err: errors.New(reason), Trigger: triggers[id], StartedAt: o.clock()})
			}
			break
		}
		res := <-done
		delete(running, res.TaskID)
		finish(res)
		o.logResult(res)
		var fsErr *task.FileSystemError
		if res.Outcome == task.OutcomeFailure && errors.As(res.Err, &fsErr) && fatal == nil {
			fatal = res.Err
		}
	}

	for _, id := range plan.IDs() {
		report.Results = append(report.Results, results[id])
	}
	if reason := o.reloadReason(report); reason != "" && o.notifier != nil {
		o.notifier.Notify(reason)
		report.Reloaded = true
		o.logger.Printf("reload: %s", reason)
	}
	report.Duration = o.clock().Sub(started)
	o.emit(Event{Kind: EventRunFinished, Trigger: req.Trigger, Report: report, At: o.clock()})
	if o.repo != nil {
		if err := o.repo.Save(Snapshot(report)); err != nil {
			o.logger.Printf("orchestrator: save run state: %v", err)
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		return report, &task.PartialFailureError{Failed: failed}
	}
	if err := ctx.Err(); err != nil && !report.OK() {
		return report, err
	}
	if fatal != nil {
		return report, fatal
	}
	return report, nil
}

// execute runs one task, waiting for and sharing a coalesced re-run when the
// task is already in flight in another run.
func (o *Orchestrator) execute(ctx context.Context, t task.Task, trigger task.Trigger) task.Result {
	next, leader := o.claim(t.ID)
	if next == nil {
		defer o.release(t.ID)
		return o.invoke(ctx, t, trigger)
	}
	if !leader {
		<-next.done
		res := next.result
		res.Trigger = trigger
		return res
	}
	<-next.start
	res := o.invoke(ctx, t, trigger)
	next.result = res
	close(next.done)
	o.release(t.ID)
	return res
}

func (o *Orchestrator) invoke(ctx context.Context, t task.Task, trigger task.Trigger) (res task.Result) {
	res = task.Result{TaskID: t.ID, Trigger: trigger, StartedAt: o.clock()}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = task.OutcomeFailure
			res.Err = &task.PluginFailure{TaskID: t.ID, Stage: "panic", Cause: fmt.Errorf("%v", r)}
		}
		res.Duration = o.clock().Sub(res.StartedAt)
	}()
	if t.Action == nil {
		res.Outcome = task.OutcomeSuccess
		return res
	}
	summary, err := t.Action.Execute(ctx)
	if err != nil {
		res.Outcome = task.OutcomeFailure
		res.Err = containError(t.ID, err)
		return res
	}
	res.Outcome = task.OutcomeSuccess
	res.Summary = summary
	return res
}

func containError(taskID string, err error) error {
	var (
		pluginErr *task.PluginFailure
		fsErr     *task.FileSystemError
	)
	if errors.As(err, &pluginErr) || errors.As(err, &fsErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return &task.PluginFailure{TaskID: taskID, Cause: err}
}

func (o *Orchestrator) reloadReason(report task.Report) string {
	var ids []string
	for _, res := range report.Results {
		if !res.Succeeded() {
			continue
		}
		if t, ok := o.graph.Task(res.TaskID); ok && t.Notify {
			ids = append(ids, res.TaskID)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	return "rebuilt " + strings.Join(ids, ", ")
}

func (o *Orchestrator) logResult(res task.Result) {
	switch res.Outcome {
	case task.OutcomeSuccess:
		o.logger.Printf("task %s finished in %s (%s, %d bytes)", res.TaskID, res.Duration.Round(time.Millisecond), res.Trigger, res.Summary.TotalBytes())
	default:
		o.logger.Printf("task %s %s after %s: %v", res.TaskID, res.Outcome, res.Duration.Round(time.Millisecond), res.Err)
	}
}

func (o *Orchestrator) emit(ev Event) {
	for _, obs := range o.observers {
		obs.Observe(ev)
	}
}

// triggersFor assigns every planned task its trigger. Targets carry the
// request trigger; predecessors pulled in for a target record which task
// needed them.
func triggersFor(plan graph.Plan, req task.Request) map[string]task.Trigger {
	targets := make(map[string]bool, len(req.Targets))
	for _, id := range req.Targets {
		targets[id] = true
	}
	triggers := make(map[string]task.Trigger, plan.Len())
	ids := plan.IDs()
	for _, id := range ids {
		if len(req.Targets) == 0 || targets[id] || req.Expand == task.ExpandDependents {
			triggers[id] = req.Trigger
			continue
		}
		triggers[id] = req.Trigger
		for _, candidate := range ids {
			if containsString(plan.Dependencies(candidate), id) {
				triggers[id] = task.DependencyOf(candidate)
				break
			}
		}
	}
	return triggers
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
