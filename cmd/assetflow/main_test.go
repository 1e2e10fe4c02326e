package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/assets"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/plugin"
)

func TestInitWritesConfigOnce(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "wrote "+config.FileName) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	out, err = execute(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBuildStatusAndHistory(t *testing.T) {
	dir := newProjectTree(t)
	out, err := execute(t, "build", "--dir", dir)
	if err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}
	for _, want := range []string{"✓ styles", "✓ inject", "public/_css/main.min.css", "0 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("build output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "public", "_css", "main.css")); !os.IsNotExist(err) {
		t.Fatalf("production build must not keep expanded css: %v", err)
	}

	out, err = execute(t, "status", "--dir", dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Last run: manual", "ready", "public/_js/core.min.js", "0 modified, 0 missing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "history", "--dir", dir, "-n", "2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "showing 2 of") || !strings.Contains(out, "run manual") {
		t.Fatalf("unexpected history:\n%s", out)
	}
}

func TestDevKeepsExpandedOutputUnlessProductionFlag(t *testing.T) {
	dir := newProjectTree(t)
	if out, err := execute(t, "dev", "--dir", dir); err != nil {
		t.Fatalf("dev: %v\n%s", err, out)
	}
	expanded := filepath.Join(dir, "public", "_css", "main.css")
	if _, err := os.Stat(expanded); err != nil {
		t.Fatalf("dev must emit expanded css: %v", err)
	}

	if out, err := execute(t, "clean", "--dir", dir); err != nil || !strings.Contains(out, "removed public/_css") {
		t.Fatalf("clean: %v\n%s", err, out)
	}
	if _, err := os.Stat(expanded); !os.IsNotExist(err) {
		t.Fatalf("clean must remove outputs: %v", err)
	}

	if out, err := execute(t, "dev", "--production", "--dir", dir); err != nil {
		t.Fatalf("dev --production: %v\n%s", err, out)
	}
	if _, err := os.Stat(expanded); !os.IsNotExist(err) {
		t.Fatalf("--production must win over the target: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "public", "_css", "main.min.css")); err != nil {
		t.Fatalf("minified css missing: %v", err)
	}
}

func TestRunFailsOnBrokenIcon(t *testing.T) {
	dir := newProjectTree(t)
	writeFile(t, filepath.Join(dir, "assets", "icons", "broken.svg"), "<svg")
	out, err := execute(t, "run", "inject", "--dir", dir)
	if err == nil || !strings.Contains(err.Error(), "build failed: svgSymbols") {
		t.Fatalf("expected svgSymbols failure, got %v", err)
	}
	if !strings.Contains(out, "✗ svgSymbols") || !strings.Contains(out, "skipped") {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestPlan(t *testing.T) {
	dir := newProjectTree(t)
	out, err := execute(t, "plan", "--dir", dir)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "2. inject") || !strings.Contains(out, "6 task(s)") {
		t.Fatalf("unexpected plan:\n%s", out)
	}

	out, err = execute(t, "plan", "-s", "inject", "--dir", dir)
	if err != nil {
		t.Fatalf("plan inject: %v", err)
	}
	for _, want := range []string{"svgSymbols [exclusive]", "inject [exclusive] after svgSymbols", "2 task(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("plan output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "plan", "deploy", "--dir", dir); err == nil || !strings.Contains(err.Error(), "unknown task deploy") {
		t.Fatalf("expected unknown task error, got %v", err)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), "proxy:\n  port: 70000\n")
	if _, err := execute(t, "dev", "--dir", dir); err == nil || !strings.Contains(err.Error(), "config:") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := &CLI{stdout: &out, stderr: &out, newRegistry: fakeRegistry}
	root := newRootCommand(cli)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeRegistry replaces every external tool with a marker-appending plugin.
func fakeRegistry(_ *config.Config, _ ...plugin.LintOption) *plugin.Registry {
	reg := plugin.NewRegistry()
	for _, name := range []string{assets.ToolSass, assets.ToolAutoprefixer, assets.ToolCSSMin, assets.ToolUglify, assets.ToolImagemin} {
		marker := "/*" + name + "*/"
		reg.MustRegister(name, func(plugin.Config) (plugin.Plugin, error) {
			return plugin.Func{Label: name, Fn: func(_ context.Context, in plugin.Asset) (plugin.Asset, error) {
				in.Data = append(append([]byte{}, in.Data...), marker...)
				return in, nil
			}}, nil
		})
	}
	for _, name := range []string{assets.ToolSCSSLint, assets.ToolJSHint} {
		_ = reg.RegisterLinter(name, func(plugin.Config) (plugin.Linter, error) {
			return plugin.LintFunc{Label: name}, nil
		})
	}
	return reg
}

func newProjectTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"assets/scss/main.scss":   "a{}",
		"assets/js/src/app.js":    "app();",
		"assets/js/vendor/lib.js": "lib();",
		"assets/img/logo.png":     "PNG",
		"assets/icons/arrow.svg":  `<svg viewBox="0 0 10 10"><path d="M0 0"/></svg>`,
		"index.html":              "<html><body></body></html>",
	}
	for rel, content := range files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), content)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
