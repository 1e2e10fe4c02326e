package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/assetflow/internal/task"
)

// Graph holds declared tasks and their predecessor relationships. It is built
// once at startup and only read afterwards.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]task.Task
	order []string
	index map[string]int
}

// New declares every task in order and validates the result. It is the
// builder used by callers; nothing is registered globally.
func New(tasks ...task.Task) (*Graph, error) {
	g := &Graph{
		tasks: make(map[string]task.Task, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		if err := g.Declare(t); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Declare registers a task. Predecessors may be declared later; Validate and
// ResolveOrder reject any that never appear.
func (g *Graph) Declare(t task.Task) error {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tasks == nil {
		g.tasks = map[string]task.Task{}
		g.index = map[string]int{}
	}
	if _, exists := g.tasks[t.ID]; exists {
		return &task.DuplicateTaskError{ID: t.ID}
	}
	if t.Concurrency == task.ParallelSafe {
		for _, id := range g.order {
			other := g.tasks[id]
			if other.Concurrency != task.ParallelSafe || other.Group != t.Group {
				continue
			}
			if mine, theirs, ok := t.OverlapsWith(other); ok {
				return &task.OverlapError{TaskID: t.ID, Other: other.ID, Group: t.Group, Path: mine, OtherAt: theirs}
			}
		}
	}
	if cycle := g.cycleThrough(t); cycle != nil {
		return &task.CyclicDependencyError{Cycle: cycle}
	}
	g.tasks[t.ID] = t
	g.index[t.ID] = len(g.order)
	g.order = append(g.order, t.ID)
	return nil
}

// Validate ensures every predecessor is declared and the graph is acyclic.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return &task.UnknownTaskError{ID: dep, ReferencedBy: id}
			}
		}
	}
	all := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		all[id] = true
	}
	if cycle := g.findCycle(all); cycle != nil {
		return &task.CyclicDependencyError{Cycle: cycle}
	}
	return nil
}

// Task returns a copy of the declared task.
func (g *Graph) Task(id string) (task.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// IDs returns task ids in declaration order.
func (g *Graph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.order...)
}

// Len reports how many tasks are declared.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Dependents returns the direct dependents of id in declaration order.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(id)
}

// ResolveOrder returns a plan containing the targets and all their
// predecessors. With no targets every task is planned.
func (g *Graph) ResolveOrder(targets ...string) (Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(targets) == 0 {
		targets = append([]string{}, g.order...)
	}
	selected := make(map[string]bool, len(targets))
	var visit func(id, referencedBy string) error
	visit = func(id, referencedBy string) error {
		t, ok := g.tasks[id]
		if !ok {
			return &task.UnknownTaskError{ID: id, ReferencedBy: referencedBy}
		}
		if selected[id] {
			return nil
		}
		selected[id] = true
		for _, dep := range t.DependsOn {
			if err := visit(dep, id); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id, ""); err != nil {
			return Plan{}, err
		}
	}
	return g.planLocked(selected)
}

// ResolveDependents returns a plan holding the changed tasks plus every task
// that transitively depends on them. Predecessors outside the set are treated
// as already satisfied.
func (g *Graph) ResolveDependents(changed ...string) (Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	selected := make(map[string]bool, len(changed))
	queue := make([]string, 0, len(changed))
	for _, id := range changed {
		if _, ok := g.tasks[id]; !ok {
			return Plan{}, &task.UnknownTaskError{ID: id}
		}
		if !selected[id] {
			selected[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range g.dependentsLocked(id) {
			if !selected[dependent] {
				selected[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	return g.planLocked(selected)
}

// Resolve dispatches to ResolveOrder or ResolveDependents.
func (g *Graph) Resolve(req task.Request) (Plan, error) {
	if req.Expand == task.ExpandDependents {
		return g.ResolveDependents(req.Targets...)
	}
	return g.ResolveOrder(req.Targets...)
}

func (g *Graph) dependentsLocked(id string) []string {
	var out []string
	for _, candidate := range g.order {
		for _, dep := range g.tasks[candidate].DependsOn {
			if dep == id {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// planLocked orders the selected tasks topologically. Among tasks that are
// ready at the same time, declaration order wins.
func (g *Graph) planLocked(selected map[string]bool) (Plan, error) {
	deps := make(map[string][]string, len(selected))
	indegree := make(map[string]int, len(selected))
	for id := range selected {
		var inPlan []string
		for _, dep := range g.tasks[id].DependsOn {
			if selected[dep] {
				inPlan = append(inPlan, dep)
			}
		}
		deps[id] = inPlan
		indegree[id] = len(inPlan)
	}
	dependents := make(map[string][]string, len(selected))
	for id, list := range deps {
		for _, dep := range list {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	order := make([]string, 0, len(selected))
	for len(ready) > 0 {
		g.sortByDeclaration(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(selected) {
		cycle := g.findCycle(selected)
		if cycle == nil {
			cycle = []string{}
		}
		return Plan{}, &task.CyclicDependencyError{Cycle: cycle}
	}

	tasks := make(map[string]task.Task, len(order))
	for _, id := range order {
		tasks[id] = g.tasks[id].Clone()
	}
	return Plan{
		order:  order,
		tasks:  tasks,
		deps:   deps,
		layers: g.layers(order, deps),
	}, nil
}

func (g *Graph) layers(order []string, deps map[string][]string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := -1
	for _, id := range order {
		d := 0
		for _, dep := range deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]string, maxDepth+1)
	for _, id := range order {
		layers[depth[id]] = append(layers[depth[id]], id)
	}
	for _, layer := range layers {
		g.sortByDeclaration(layer)
	}
	return layers
}

func (g *Graph) sortByDeclaration(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.index[ids[i]] < g.index[ids[j]]
	})
}

// cycleThrough reports a cycle that declaring t would close.
func (g *Graph) cycleThrough(t task.Task) []string {
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return []string{t.ID, t.ID}
		}
	}
	visited := map[string]bool{}
	var path []string
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == t.ID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		current, ok := g.tasks[id]
		if !ok {
			return false
		}
		path = append(path, id)
		for _, dep := range current.DependsOn {
			if walk(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	for _, dep := range t.DependsOn {
		path = path[:0]
		if walk(dep) {
			cycle := append([]string{t.ID}, path...)
			return append(cycle, t.ID)
		}
	}
	return nil
}

// findCycle returns one cycle among the nodes in scope, or nil.
func (g *Graph) findCycle(scope map[string]bool) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(scope))
	var stack []string
	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.tasks[id].DependsOn {
			if !scope[dep] {
				continue
			}
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}
	for _, id := range g.order {
		if scope[id] && color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// String renders the plan layers, mostly for logs.
func (p Plan) String() string {
	return fmt.Sprintf("%v", p.layers)
}
