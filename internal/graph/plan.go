package graph

import "github.com/kingrea/assetflow/internal/task"

// Plan is a resolved execution order for a subset of the graph.
type Plan struct {
	order  []string
	tasks  map[string]task.Task
	deps   map[string][]string
	layers [][]string
}

// IDs returns the linear order: every task follows its predecessors.
func (p Plan) IDs() []string {
	return append([]string{}, p.order...)
}

// Len reports the number of planned tasks.
func (p Plan) Len() int {
	return len(p.order)
}

// Tasks returns the planned tasks in order.
func (p Plan) Tasks() []task.Task {
	out := make([]task.Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id].Clone())
	}
	return out
}

// Task returns one planned task.
func (p Plan) Task(id string) (task.Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// Contains reports whether id is part of the plan.
func (p Plan) Contains(id string) bool {
	_, ok := p.tasks[id]
	return ok
}

// Dependencies returns the predecessors of id that are part of the plan.
func (p Plan) Dependencies(id string) []string {
	deps := p.deps[id]
	if len(deps) == 0 {
		return nil
	}
	return append([]string{}, deps...)
}

// Layers groups the plan by depth. Tasks in one layer have no dependency on
// each other; each layer keeps declaration order.
func (p Plan) Layers() [][]string {
	out := make([][]string, len(p.layers))
	for i, layer := range p.layers {
		out[i] = append([]string{}, layer...)
	}
	return out
}

// Index returns the position of id in the linear order, or -1.
func (p Plan) Index(id string) int {
	for i, candidate := range p.order {
		if candidate == id {
			return i
		}
	}
	return -1
}
