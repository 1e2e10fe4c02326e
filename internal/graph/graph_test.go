package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/kingrea/assetflow/internal/task"
)

func TestResolveOrderPlacesPredecessorsFirst(t *testing.T) {
	g := mustGraph(t,
		parallel("styles", "public/_css"),
		parallel("scripts", "public/_js/core.js"),
		exclusive("svgSymbols"),
		exclusive("inject", "svgSymbols"),
	)
	plan, err := g.ResolveOrder("inject")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := plan.IDs(); !reflect.DeepEqual(got, []string{"svgSymbols", "inject"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if deps := plan.Dependencies("inject"); len(deps) != 1 || deps[0] != "svgSymbols" {
		t.Fatalf("unexpected deps %v", deps)
	}
}

func TestResolveOrderAllUsesDeclarationOrderForTies(t *testing.T) {
	g := mustGraph(t,
		parallel("styles", "public/_css"),
		parallel("scripts", "public/_js/core.js"),
		exclusive("inject", "svgSymbols"),
		exclusive("svgSymbols"),
	)
	plan, err := g.ResolveOrder()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"styles", "scripts", "svgSymbols", "inject"}
	if got := plan.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	layers := plan.Layers()
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %v", layers)
	}
	if !reflect.DeepEqual(layers[0], []string{"styles", "scripts", "svgSymbols"}) {
		t.Fatalf("unexpected first layer %v", layers[0])
	}
	if !reflect.DeepEqual(layers[1], []string{"inject"}) {
		t.Fatalf("unexpected second layer %v", layers[1])
	}
}

func TestResolveOrderNeverPlacesTaskBeforePredecessor(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(10)
		tasks := make([]task.Task, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			var deps []string
			// Only depend on lower indexes so the graph stays acyclic.
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			tasks[i] = task.Task{ID: id, Concurrency: task.ParallelSafe, DependsOn: deps}
		}
		rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
		g := mustGraph(t, tasks...)
		plan, err := g.ResolveOrder()
		if err != nil {
			t.Fatalf("round %d: resolve: %v", round, err)
		}
		for _, tk := range tasks {
			for _, dep := range tk.DependsOn {
				if plan.Index(dep) >= plan.Index(tk.ID) {
					t.Fatalf("round %d: %s planned before its predecessor %s: %v", round, tk.ID, dep, plan.IDs())
				}
			}
		}
	}
}

func TestCyclesAreRejected(t *testing.T) {
	for length := 1; length <= 6; length++ {
		t.Run(fmt.Sprintf("length-%d", length), func(t *testing.T) {
			tasks := make([]task.Task, length)
			for i := 0; i < length; i++ {
				next := fmt.Sprintf("c%d", (i+1)%length)
				tasks[i] = task.Task{ID: fmt.Sprintf("c%d", i), Concurrency: task.ParallelSafe, DependsOn: []string{next}}
			}
			_, err := New(tasks...)
			var cyc *task.CyclicDependencyError
			if !errors.As(err, &cyc) {
				t.Fatalf("expected cyclic dependency error, got %v", err)
			}
			if len(cyc.Cycle) != length+1 || cyc.Cycle[0] != cyc.Cycle[len(cyc.Cycle)-1] {
				t.Fatalf("unexpected cycle path %v", cyc.Cycle)
			}
		})
	}
}

func TestDeclareRejectsCycleWithExistingTasks(t *testing.T) {
	g := &Graph{}
	if err := g.Declare(task.Task{ID: "a", DependsOn: []string{"b"}}); err != nil {
		t.Fatalf("declare a: %v", err)
	}
	if err := g.Declare(task.Task{ID: "c", DependsOn: []string{"a"}}); err != nil {
		t.Fatalf("declare c: %v", err)
	}
	err := g.Declare(task.Task{ID: "b", DependsOn: []string{"c"}})
	var cyc *task.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	want := []string{"b", "c", "a", "b"}
	if !reflect.DeepEqual(cyc.Cycle, want) {
		t.Fatalf("expected cycle %v, got %v", want, cyc.Cycle)
	}
	if g.Len() != 2 {
		t.Fatalf("rejected task must not be registered")
	}
}

func TestDeclareRejectsDuplicates(t *testing.T) {
	_, err := New(parallel("styles", "public/_css"), parallel("styles", "public/css"))
	var dup *task.DuplicateTaskError
	if !errors.As(err, &dup) || dup.ID != "styles" {
		t.Fatalf("expected duplicate error for styles, got %v", err)
	}
}

func TestDeclareRejectsOverlappingParallelOutputs(t *testing.T) {
	_, err := New(
		parallel("scripts", "public/_js"),
		parallel("vendorScripts", "public/_js/vendor"),
	)
	var overlap *task.OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	if overlap.TaskID != "vendorScripts" || overlap.Other != "scripts" {
		t.Fatalf("unexpected overlap %+v", overlap)
	}
}

func TestOverlapAllowedAcrossGroupsAndExclusiveTasks(t *testing.T) {
	a := parallel("scripts", "public/_js")
	b := parallel("vendorScripts", "public/_js/vendor")
	b.Group = "vendor"
	c := exclusive("rewrite")
	c.Outputs = []string{"public/_js"}
	if _, err := New(a, b, c); err != nil {
		t.Fatalf("expected declarations to succeed, got %v", err)
	}
}

func TestValidateRejectsUnknownDependencies(t *testing.T) {
	_, err := New(exclusive("inject", "svgSymbols"))
	var unknown *task.UnknownTaskError
	if !errors.As(err, &unknown) || unknown.ID != "svgSymbols" || unknown.ReferencedBy != "inject" {
		t.Fatalf("expected unknown svgSymbols, got %v", err)
	}
}

func TestResolveDependentsSkipsPredecessors(t *testing.T) {
	g := mustGraph(t,
		parallel("styles", "public/_css"),
		parallel("scripts", "public/_js/core.js"),
		exclusive("svgSymbols"),
		exclusive("inject", "svgSymbols"),
		exclusive("publish", "inject"),
	)
	plan, err := g.ResolveDependents("scripts")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := plan.IDs(); !reflect.DeepEqual(got, []string{"scripts"}) {
		t.Fatalf("expected only scripts, got %v", got)
	}
	plan, err = g.ResolveDependents("svgSymbols")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := plan.IDs(); !reflect.DeepEqual(got, []string{"svgSymbols", "inject", "publish"}) {
		t.Fatalf("unexpected dependents plan %v", got)
	}
	plan, err = g.ResolveDependents("inject")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Contains("svgSymbols") {
		t.Fatalf("predecessor must not be pulled into a dependents plan")
	}
	if deps := plan.Dependencies("inject"); len(deps) != 0 {
		t.Fatalf("out-of-plan predecessors must be dropped, got %v", deps)
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	g := mustGraph(t, parallel("styles", "public/_css"))
	if _, err := g.ResolveOrder("nope"); err == nil {
		t.Fatalf("expected unknown task error")
	}
	if _, err := g.ResolveDependents("nope"); err == nil {
		t.Fatalf("expected unknown task error")
	}
}

func TestPlanTasksAreCopies(t *testing.T) {
	g := mustGraph(t, parallel("styles", "public/_css"))
	plan, err := g.ResolveOrder()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tasks := plan.Tasks()
	tasks[0].Outputs[0] = "mutated"
	again, _ := g.Task("styles")
	if again.Outputs[0] != "public/_css" {
		t.Fatalf("graph task mutated through plan copy")
	}
}

func mustGraph(t *testing.T, tasks ...task.Task) *Graph {
	t.Helper()
	g, err := New(tasks...)
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	return g
}

func parallel(id string, outputs ...string) task.Task {
	return task.Task{ID: id, Concurrency: task.ParallelSafe, Outputs: outputs}
}

func exclusive(id string, deps ...string) task.Task {
	return task.Task{ID: id, Concurrency: task.Exclusive, DependsOn: deps}
}
