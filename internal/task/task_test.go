package task

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateRejectsBadDeclarations(t *testing.T) {
	cases := []struct {
		name string
		task Task
	}{
		{name: "missing id", task: Task{Concurrency: ParallelSafe}},
		{name: "unknown class", task: Task{ID: "styles", Concurrency: "sometimes"}},
		{name: "duplicate dependency", task: Task{ID: "inject", Concurrency: Exclusive, DependsOn: []string{"svg", "svg"}}},
		{name: "blank dependency", task: Task{ID: "inject", Concurrency: Exclusive, DependsOn: []string{" "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.task.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNormalizedAppliesDefaults(t *testing.T) {
	got := Task{ID: " styles ", Outputs: []string{"public/_css/"}}.Normalized()
	if got.ID != "styles" {
		t.Fatalf("expected trimmed id, got %q", got.ID)
	}
	if got.Concurrency != ParallelSafe {
		t.Fatalf("expected parallel-safe default, got %s", got.Concurrency)
	}
	if got.Group != DefaultGroup {
		t.Fatalf("expected default group, got %s", got.Group)
	}
	if got.Outputs[0] != "public/_css" {
		t.Fatalf("expected cleaned output, got %s", got.Outputs[0])
	}
}

func TestOverlapsWith(t *testing.T) {
	cases := []struct {
		a, b    []string
		overlap bool
	}{
		{a: []string{"public/_css"}, b: []string{"public/_css"}, overlap: true},
		{a: []string{"public/_js"}, b: []string{"public/_js/vendor"}, overlap: true},
		{a: []string{"public/_js/core.js", "public/_js/core.min.js"}, b: []string{"public/_js/vendor"}, overlap: false},
		{a: []string{"public/_css"}, b: []string{"public/_css2"}, overlap: false},
		{a: nil, b: []string{"public"}, overlap: false},
	}
	for i, tc := range cases {
		_, _, got := Task{Outputs: tc.a}.OverlapsWith(Task{Outputs: tc.b})
		if got != tc.overlap {
			t.Fatalf("case %d: expected overlap=%v for %v vs %v", i, tc.overlap, tc.a, tc.b)
		}
	}
}

func TestPluginFailureUnwraps(t *testing.T) {
	cause := fmt.Errorf("sass exited 1")
	err := error(&PluginFailure{TaskID: "styles", Stage: "sass", Cause: cause})
	if !errors.Is(err, ErrPluginFailed) {
		t.Fatalf("expected ErrPluginFailed")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	partial := error(&PartialFailureError{Failed: []Result{{TaskID: "styles", Outcome: OutcomeFailure, Err: err}}})
	var pf *PluginFailure
	if !errors.As(partial, &pf) || pf.TaskID != "styles" {
		t.Fatalf("expected plugin failure through partial failure, got %v", pf)
	}
}

func TestReportCounts(t *testing.T) {
	report := Report{Results: []Result{
		{TaskID: "styles", Outcome: OutcomeSuccess},
		{TaskID: "svgSymbols", Outcome: OutcomeFailure},
		{TaskID: "inject", Outcome: OutcomeSkipped},
	}}
	if report.OK() {
		t.Fatalf("report with a failure must not be OK")
	}
	if got := len(report.Failed()); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if res, ok := report.Result("inject"); !ok || res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped inject, got %+v", res)
	}
}

func TestTriggerString(t *testing.T) {
	if got := FileChange("b.js", "a.js").String(); got != "file-change(a.js, b.js)" {
		t.Fatalf("unexpected trigger string %q", got)
	}
	if got := DependencyOf("inject").String(); got != "dependency-of(inject)" {
		t.Fatalf("unexpected trigger string %q", got)
	}
	if got := (Trigger{}).String(); got != "manual" {
		t.Fatalf("unexpected trigger string %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KiB",
		1536:        "1.5 KiB",
		5 * 1 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
