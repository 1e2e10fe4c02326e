package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/plugin"
	"github.com/kingrea/assetflow/internal/task"
)

func TestStylesPipelineEmitsExpandedAndMinified(t *testing.T) {
	root := newProject(t, map[string]string{
		"assets/scss/main.scss":     "a{color:red}",
		"assets/scss/print.scss":    "b{}",
		"assets/scss/_partial.scss": "ignored",
	})
	store := newStore(root)
	p := New("styles", store, []Stage{
		Source("assets/scss/*.scss"),
		SkipPartials(),
		Transform(fakeTool("sass", ".css", "/*sass*/")),
		Emit("public/_css"),
		Rename(".min"),
		Transform(fakeTool("cssmin", "", "/*min*/")),
		Emit("public/_css"),
		Size("Styles"),
	})
	summary, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.Title != "Styles" {
		t.Fatalf("expected Styles title, got %q", summary.Title)
	}
	want := map[string]string{
		"public/_css/main.css":      "a{color:red}/*sass*/",
		"public/_css/print.css":     "b{}/*sass*/",
		"public/_css/main.min.css":  "a{color:red}/*sass*//*min*/",
		"public/_css/print.min.css": "b{}/*sass*//*min*/",
	}
	for rel, content := range want {
		if got := readFile(t, root, rel); got != content {
			t.Fatalf("%s: expected %q, got %q", rel, content, got)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "public/_css/_partial.css")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partials must not be compiled")
	}
	if len(summary.Files) != 4 {
		t.Fatalf("expected 4 files in summary, got %+v", summary.Files)
	}
}

func TestFailedStageWritesNothing(t *testing.T) {
	root := newProject(t, map[string]string{"assets/js/src/a.js": "var a;"})
	store := newStore(root)
	good := New("scripts", store, []Stage{
		Source("assets/js/src/*.js"),
		Concat("core.js"),
		Emit("public/_js"),
	})
	if _, err := good.Execute(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	writeFile(t, root, "assets/js/src/a.js", "var changed;")
	broken := New("scripts", store, []Stage{
		Source("assets/js/src/*.js"),
		Concat("core.js"),
		Emit("public/_js"),
		Transform(plugin.Func{Label: "uglify", Fn: func(context.Context, plugin.Asset) (plugin.Asset, error) {
			return plugin.Asset{}, errors.New("unexpected token")
		}}),
		Emit("public/_js"),
	})
	_, err := broken.Execute(context.Background())
	var failure *task.PluginFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected PluginFailure, got %v", err)
	}
	if failure.Stage != "uglify" || failure.TaskID != "scripts" {
		t.Fatalf("unexpected failure %+v", failure)
	}
	if !errors.Is(err, task.ErrPluginFailed) {
		t.Fatalf("expected ErrPluginFailed in chain")
	}
	if got := readFile(t, root, "public/_js/core.js"); got != "var a;" {
		t.Fatalf("previous output must survive a failed run, got %q", got)
	}
}

func TestRerunIsByteIdentical(t *testing.T) {
	root := newProject(t, map[string]string{
		"assets/js/src/b.js": "b();",
		"assets/js/src/a.js": "a();",
		"assets/js/src/c.js": "c();",
	})
	store := newStore(root)
	p := New("scripts", store, []Stage{
		Source("assets/js/src/*.js"),
		Concat("core.js"),
		Emit("public/_js"),
	}, WithWorkers(3))
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := readFile(t, root, "public/_js/core.js")
	if first != "a();\nb();\nc();" {
		t.Fatalf("inputs must be concatenated in sorted order, got %q", first)
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("second: %v", err)
	}
	if second := readFile(t, root, "public/_js/core.js"); !bytes.Equal([]byte(first), []byte(second)) {
		t.Fatalf("rebuild differs: %q vs %q", first, second)
	}
}

func TestSourceKeepsNestedPaths(t *testing.T) {
	root := newProject(t, map[string]string{
		"assets/img/logo.png":       "png",
		"assets/img/icons/home.gif": "gif",
	})
	p := New("images", newStore(root), []Stage{Source("assets/img/**"), Emit("public/_img")})
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, root, "public/_img/icons/home.gif"); got != "gif" {
		t.Fatalf("expected nested image copied, got %q", got)
	}
}

func TestSourceMissingDirectoryIsEmpty(t *testing.T) {
	root := t.TempDir()
	p := New("vendorScripts", newStore(root), []Stage{Source("assets/js/vendor/*.js"), Emit("public/_js/vendor")})
	summary, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(summary.Files) != 0 {
		t.Fatalf("expected no output, got %+v", summary.Files)
	}
}

func TestLintReportsEveryFailure(t *testing.T) {
	root := newProject(t, map[string]string{
		"assets/scss/a.scss": "bad",
		"assets/scss/b.scss": "good",
		"assets/scss/c.scss": "bad",
	})
	linter := plugin.LintFunc{Label: "scsslint", Fn: func(_ context.Context, a plugin.Asset) error {
		if string(a.Data) == "bad" {
			return errors.New(a.Source + " is bad")
		}
		return nil
	}}
	p := New("lint", newStore(root), []Stage{Source("assets/scss/*.scss"), Lint(linter)})
	_, err := p.Execute(context.Background())
	if err == nil {
		t.Fatalf("expected lint failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "a.scss is bad") || !strings.Contains(msg, "c.scss is bad") {
		t.Fatalf("expected both findings, got %v", msg)
	}
}

func TestWhenDropsDisabledStages(t *testing.T) {
	p := New("scripts", newStore(t.TempDir()), []Stage{
		Source("js/*.js"),
		When(false, Emit("public/_js")),
		Concat("core.js"),
		When(true, Size("Scripts")),
	})
	if got := p.Describe(); !reflect.DeepEqual(got, []string{"source", "concat", "size"}) {
		t.Fatalf("unexpected stages %v", got)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New("styles", newStore(t.TempDir()), []Stage{Source("x/*.scss")})
	if _, err := p.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func fakeTool(name, ext, marker string) plugin.Plugin {
	return plugin.Func{Label: name, Fn: func(_ context.Context, a plugin.Asset) (plugin.Asset, error) {
		if ext != "" {
			a = a.WithExt(ext)
		}
		a.Data = append(append([]byte(nil), a.Data...), marker...)
		return a, nil
	}}
}

func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

func newStore(root string) *artifact.Store {
	return artifact.NewStore(root, filepath.Join(root, ".assetflow", "state"))
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}
