package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/graph"
	"github.com/kingrea/assetflow/internal/inject"
	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/plugin"
	"github.com/kingrea/assetflow/internal/task"
	"github.com/kingrea/assetflow/internal/watcher"
)

func TestCatalogDeclaresEveryTask(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")
	catalog := newCatalog(t, cfg)
	want := []string{TaskStyles, TaskLint, TaskScripts, TaskVendorScripts, TaskImages, TaskSVGSymbols, TaskInject}
	if got := catalog.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected tasks %v, got %v", want, got)
	}
	inj, _ := catalog.Task(TaskInject)
	if inj.Concurrency != task.Exclusive || !reflect.DeepEqual(inj.DependsOn, []string{TaskSVGSymbols}) {
		t.Fatalf("inject must be exclusive and follow svgSymbols: %+v", inj)
	}
	if _, err := graph.New(catalog.Tasks...); err != nil {
		t.Fatalf("catalog must form a valid graph: %v", err)
	}
}

func TestCatalogVariantDropsVendorAndInject(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), `
variant:
  output_prefix: ""
  vendor_scripts: false
inject:
  enabled: false
`)
	catalog := newCatalog(t, cfg)
	for _, id := range []string{TaskVendorScripts, TaskInject} {
		if _, ok := catalog.Task(id); ok {
			t.Fatalf("%s should not be declared", id)
		}
	}
	styles, _ := catalog.Task(TaskStyles)
	if !reflect.DeepEqual(styles.Outputs, []string{"public/css"}) {
		t.Fatalf("unexpected styles outputs %v", styles.Outputs)
	}
	build, err := catalog.Target(TargetBuild)
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if !reflect.DeepEqual(build.Tasks, []string{TaskStyles, TaskScripts, TaskImages, TaskSVGSymbols}) {
		t.Fatalf("unexpected build tasks %v", build.Tasks)
	}
}

func TestProductionDropsDevelopmentStages(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), "")
	dev := newCatalog(t, cfg)
	cfg.SetProduction(true)
	prod := newCatalog(t, cfg)

	devStages := stagesOf(t, dev, TaskScripts)
	prodStages := stagesOf(t, prod, TaskScripts)
	if !contains(devStages, ToolJSHint) || contains(prodStages, ToolJSHint) {
		t.Fatalf("jshint must only run in development: dev=%v prod=%v", devStages, prodStages)
	}
	if count(devStages, "emit") != 2 || count(prodStages, "emit") != 1 {
		t.Fatalf("production emits only minified output: dev=%v prod=%v", devStages, prodStages)
	}
}

func TestTargets(t *testing.T) {
	catalog := newCatalog(t, loadConfig(t, t.TempDir(), ""))
	if got := catalog.TargetNames(); !reflect.DeepEqual(got, []string{TargetBuild, TargetDefault, TargetDev, TargetLint}) {
		t.Fatalf("unexpected targets %v", got)
	}
	dev, _ := catalog.Target(TargetDev)
	if dev.Clean || dev.Production == nil || *dev.Production {
		t.Fatalf("dev must not clean and must not minify-only: %+v", dev)
	}
	def, _ := catalog.Target(TargetDefault)
	if !def.Clean || def.Production == nil || !*def.Production || len(def.Tasks) != 6 {
		t.Fatalf("default must clean and build everything: %+v", def)
	}
	if _, err := catalog.Target("deploy"); err == nil {
		t.Fatalf("expected unknown target error")
	}
}

func TestWatchRulesRouteByCategory(t *testing.T) {
	catalog := newCatalog(t, loadConfig(t, t.TempDir(), ""))
	for _, rule := range catalog.Rules {
		if err := rule.Validate(); err != nil {
			t.Fatalf("rule %s: %v", rule.Name, err)
		}
	}
	cases := []struct {
		path   string
		tasks  []string
		reload bool
	}{
		{"assets/js/src/app.js", []string{TaskScripts}, false},
		{"assets/scss/main.scss", []string{TaskStyles}, false},
		{"assets/scss/partials/_grid.scss", []string{TaskStyles}, false},
		{"assets/js/vendor/jquery.js", []string{TaskVendorScripts}, false},
		{"assets/img/photos/cat.jpg", []string{TaskImages}, false},
		{"assets/icons/arrow.svg", []string{TaskSVGSymbols}, false},
		{"assets/views/page.php", nil, true},
	}
	for _, tc := range cases {
		m, ok := watcher.Route(catalog.Rules, tc.path)
		if !ok {
			t.Fatalf("%s: expected a match", tc.path)
		}
		if !reflect.DeepEqual(m.Tasks, tc.tasks) || m.Reload != tc.reload {
			t.Fatalf("%s: got %+v", tc.path, m)
		}
	}
	if _, ok := watcher.Route(catalog.Rules, "README.md"); ok {
		t.Fatalf("unrelated files must not match")
	}
}

func TestStylesRuleWidensOnlyPlainExtensions(t *testing.T) {
	cases := []struct {
		glob string
		want string
	}{
		{"", "assets/scss/**/*.scss"},
		{"globs:\n  styles: \"scss/*.{scss,sass}\"\n", "assets/scss/*.{scss,sass}"},
		{"globs:\n  styles: \"scss/main\"\n", "assets/scss/main"},
	}
	for _, tc := range cases {
		catalog := newCatalog(t, loadConfig(t, t.TempDir(), tc.glob))
		var got []string
		for _, rule := range catalog.Rules {
			if rule.Name == TaskStyles {
				got = rule.Patterns
			}
		}
		if len(got) != 1 || got[0] != tc.want {
			t.Fatalf("config %q: got %v, want %s", tc.glob, got, tc.want)
		}
	}
}

func TestBuildTargetProducesLayoutAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"assets/scss/main.scss":   "a{color:red}",
		"assets/scss/_vars.scss":  "$x: 1;",
		"assets/js/src/b.js":      "b();",
		"assets/js/src/a.js":      "a();",
		"assets/js/vendor/lib.js": "lib();",
		"assets/img/logo.png":     "PNG",
		"assets/icons/arrow.svg":  `<svg viewBox="0 0 10 10"><path d="M0 0"/></svg>`,
		"assets/icons/close.svg":  `<svg width="8px" height="8px"><path d="M1 1"/></svg>`,
		"index.html":              "<html><body>\n<main></main>\n</body></html>",
	})
	writeTree(t, root, map[string]string{"public/_css/stale-from-old.css": "old"})
	cfg := loadConfig(t, root, "")
	cfg.SetProduction(true)
	store := artifact.NewStore(cfg.ProjectDir, cfg.StateDir())
	catalog, err := New(cfg, fakeRegistry(t), store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	target, _ := catalog.Target(TargetBuild)
	g, err := graph.New(catalog.Tasks...)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	orch, err := orchestrator.New(g, orchestrator.WithClean(store, catalog.Clean...))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	report, err := orch.Build(context.Background(), target.Tasks...)
	if err != nil {
		t.Fatalf("build: %v (%+v)", err, report.Failed())
	}
	first := snapshotTree(t, filepath.Join(root, "public"))
	want := map[string]string{
		"_css/main.min.css": "a{color:red}/*sass*//*prefixed*//*min*/",
		"_js/core.min.js":   "a();\nb();/*ugly*/",
		"_js/vendor/lib.js": "lib();/*ugly*/",
		"_img/logo.png":     "PNG",
	}
	for rel, content := range want {
		if first[rel] != content {
			t.Fatalf("%s: expected %q, got %q", rel, content, first[rel])
		}
	}
	for _, unwanted := range []string{"_css/main.css", "_js/core.js", "_css/_vars.min.css", "_css/stale-from-old.css"} {
		if _, ok := first[unwanted]; ok {
			t.Fatalf("%s must not exist after a production build", unwanted)
		}
	}
	sprite := first["_img/sprite.svg"]
	if !strings.Contains(sprite, `<symbol id="icon-arrow" viewBox="0 0 10 10">`) || !strings.Contains(sprite, `<symbol id="icon-close" viewBox="0 0 8 8">`) {
		t.Fatalf("unexpected sprite %q", sprite)
	}
	template := readFile(t, filepath.Join(root, "index.html"))
	if !strings.Contains(template, inject.StartMarker) || !strings.Contains(template, "icon-arrow") {
		t.Fatalf("sprite was not injected: %q", template)
	}

	if _, err := orch.Build(context.Background(), target.Tasks...); err != nil {
		t.Fatalf("second build: %v", err)
	}
	second := snapshotTree(t, filepath.Join(root, "public"))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("clean+build must be byte-identical:\nfirst=%v\nsecond=%v", first, second)
	}
	if again := readFile(t, filepath.Join(root, "index.html")); again != template {
		t.Fatalf("template changed on rebuild:\n%q\n%q", template, again)
	}

	results, err := store.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, res := range results {
		if res.State != artifact.StateReady {
			t.Fatalf("%s: expected ready, got %s", res.Path, res.State)
		}
	}
}

func TestDevTargetKeepsExpandedOutput(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"assets/scss/main.scss": "a{}",
		"assets/js/src/a.js":    "a();",
	})
	cfg := loadConfig(t, root, "")
	var hinted []string
	reg := fakeRegistry(t)
	if err := reg.RegisterLinter(ToolJSHint, func(plugin.Config) (plugin.Linter, error) {
		return plugin.LintFunc{Label: ToolJSHint, Fn: func(_ context.Context, in plugin.Asset) error {
			hinted = append(hinted, in.Source)
			return nil
		}}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := artifact.NewStore(cfg.ProjectDir, cfg.StateDir())
	catalog, err := New(cfg, reg, store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	dev, _ := catalog.Target(TargetDev)
	g, err := graph.New(catalog.Tasks...)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	orch, err := orchestrator.New(g)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	report, err := orch.Run(context.Background(), task.Request{Targets: dev.Tasks, Trigger: task.Manual(), Expand: task.ExpandPredecessors})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Count(task.OutcomeSuccess) != 2 {
		t.Fatalf("expected scripts and styles only, got %+v", report.Results)
	}
	for _, rel := range []string{"public/_css/main.css", "public/_css/main.min.css", "public/_js/core.js", "public/_js/core.min.js"} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Fatalf("%s: %v", rel, err)
		}
	}
	if !reflect.DeepEqual(hinted, []string{"assets/js/src/a.js"}) {
		t.Fatalf("expected jshint over sources, got %v", hinted)
	}
}

func TestBrokenIconFailsAndSkipsInject(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"assets/icons/bad.svg": "<svg",
		"index.html":           "<body></body>",
	})
	cfg := loadConfig(t, root, "")
	store := artifact.NewStore(cfg.ProjectDir, cfg.StateDir())
	catalog, err := New(cfg, fakeRegistry(t), store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	g, err := graph.New(catalog.Tasks...)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	orch, err := orchestrator.New(g)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	report, err := orch.Run(context.Background(), task.Request{
		Targets: []string{TaskSVGSymbols},
		Trigger: task.FileChange("assets/icons/bad.svg"),
		Expand:  task.ExpandDependents,
	})
	var partial *task.PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if res, _ := report.Result(TaskInject); res.Outcome != task.OutcomeSkipped {
		t.Fatalf("inject must be skipped, got %+v", res)
	}
	if got := readFile(t, filepath.Join(root, "index.html")); got != "<body></body>" {
		t.Fatalf("template must be untouched, got %q", got)
	}
}

func TestRemovingEveryIconClearsInjectedSprite(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"assets/icons/arrow.svg": `<svg viewBox="0 0 10 10"><path d="M0 0"/></svg>`,
		"index.html":             "<body></body>",
	})
	cfg := loadConfig(t, root, "")
	store := artifact.NewStore(cfg.ProjectDir, cfg.StateDir())
	catalog, err := New(cfg, fakeRegistry(t), store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	g, err := graph.New(catalog.Tasks...)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	orch, err := orchestrator.New(g)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	req := task.Request{
		Targets: []string{TaskSVGSymbols},
		Trigger: task.FileChange("assets/icons/arrow.svg"),
		Expand:  task.ExpandDependents,
	}
	if _, err := orch.Run(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := readFile(t, filepath.Join(root, "index.html")); !strings.Contains(got, "icon-arrow") {
		t.Fatalf("sprite not injected: %q", got)
	}

	if err := os.Remove(filepath.Join(root, "assets", "icons", "arrow.svg")); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Run(context.Background(), req); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := readFile(t, filepath.Join(root, "index.html")); got != "<body></body>" {
		t.Fatalf("stale sprite left in template: %q", got)
	}
}

func fakeRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	markers := map[string]string{
		ToolSass:         "/*sass*/",
		ToolAutoprefixer: "/*prefixed*/",
		ToolCSSMin:       "/*min*/",
		ToolUglify:       "/*ugly*/",
		ToolImagemin:     "",
	}
	for name, marker := range markers {
		reg.MustRegister(name, func(plugin.Config) (plugin.Plugin, error) {
			return plugin.Func{Label: name, Fn: func(_ context.Context, in plugin.Asset) (plugin.Asset, error) {
				in.Data = append(append([]byte{}, in.Data...), marker...)
				return in, nil
			}}, nil
		})
	}
	if err := reg.RegisterLinter(ToolSCSSLint, func(plugin.Config) (plugin.Linter, error) {
		return plugin.LintFunc{Label: ToolSCSSLint}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func newCatalog(t *testing.T, cfg *config.Config) *Catalog {
	t.Helper()
	store := artifact.NewStore(cfg.ProjectDir, cfg.StateDir())
	catalog, err := New(cfg, fakeRegistry(t), store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

func loadConfig(t *testing.T, root, body string) *config.Config {
	t.Helper()
	if body != "" {
		if err := os.WriteFile(filepath.Join(root, config.FileName), []byte(strings.TrimSpace(body)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := config.Load(root, "")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func stagesOf(t *testing.T, c *Catalog, id string) []string {
	t.Helper()
	tk, ok := c.Task(id)
	if !ok {
		t.Fatalf("task %s not declared", id)
	}
	return tk.Stages()
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func count(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func snapshotTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[filepath.ToSlash(rel)] = readFile(t, path)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	return out
}
