// Package assets declares the concrete build graph: the styles, scripts,
// images and sprite tasks, the watch rules that trigger them, and the named
// targets the command line runs. Everything is constructed from the loaded
// configuration and returned as data; nothing registers itself globally.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/inject"
	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/plugin"
	"github.com/kingrea/assetflow/internal/task"
	"github.com/kingrea/assetflow/internal/watcher"
)

// Task identifiers.
const (
	TaskStyles        = "styles"
	TaskLint          = "lint"
	TaskScripts       = "scripts"
	TaskVendorScripts = "vendorScripts"
	TaskImages        = "images"
	TaskSVGSymbols    = "svgSymbols"
	TaskInject        = "inject"
)

// Tool names looked up in the tools section and the plugin registry.
const (
	ToolSass         = "sass"
	ToolAutoprefixer = "autoprefixer"
	ToolCSSMin       = "cssmin"
	ToolUglify       = "uglify"
	ToolImagemin     = "imagemin"
	ToolJSHint       = "jshint"
	ToolSCSSLint     = "scsslint"
)

// SymbolPrefix prefixes every sprite symbol id.
const SymbolPrefix = "icon-"

// Logger is the narrow logging contract handed to pipelines.
type Logger interface {
	Printf(format string, args ...any)
}

// Catalog is the declared build graph plus everything the command line needs
// to drive it.
type Catalog struct {
	Tasks   []task.Task
	Rules   []watcher.Rule
	Targets map[string]Target
	// Clean lists the generated directories removed before a full build.
	Clean []string
}

// Option customizes catalog construction.
type Option func(*builder)

// WithLogger sets the logger pipelines report to.
func WithLogger(l Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.logger = l
		}
	}
}

type builder struct {
	cfg      *config.Config
	registry *plugin.Registry
	store    *artifact.Store
	logger   Logger
}

// New builds the catalog for cfg. Tools resolve through registry; outputs are
// written through store.
func New(cfg *config.Config, registry *plugin.Registry, store *artifact.Store, opts ...Option) (*Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("assets: config is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("assets: plugin registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("assets: artifact store is required")
	}
	b := &builder{cfg: cfg, registry: registry, store: store}
	for _, opt := range opts {
		opt(b)
	}

	declare := []func() (task.Task, error){
		b.styles,
		b.lint,
		b.scripts,
	}
	if cfg.Project.Variant.VendorScripts {
		declare = append(declare, b.vendorScripts)
	}
	declare = append(declare, b.images, b.svgSymbols)
	if cfg.Project.Inject.Enabled {
		declare = append(declare, b.inject)
	}

	catalog := &Catalog{Clean: cfg.CleanTargets()}
	for _, fn := range declare {
		t, err := fn()
		if err != nil {
			return nil, err
		}
		catalog.Tasks = append(catalog.Tasks, t)
	}
	catalog.Rules = b.rules()
	catalog.Targets = b.targets()
	return catalog, nil
}

// Task returns the declared task with id.
func (c *Catalog) Task(id string) (task.Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

// IDs lists the declared task ids in declaration order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Tasks))
	for i, t := range c.Tasks {
		ids[i] = t.ID
	}
	return ids
}

func (b *builder) production() bool {
	return b.cfg.Production()
}

func (b *builder) pipeline(id string, stages ...pipeline.Stage) *pipeline.Pipeline {
	opts := []pipeline.Option{pipeline.WithWorkers(b.cfg.Project.Pipeline.Workers)}
	if b.logger != nil {
		opts = append(opts, pipeline.WithLogger(b.logger))
	}
	return pipeline.New(id, b.store, stages, opts...)
}

func (b *builder) tool(name string) (plugin.Plugin, error) {
	tc := b.cfg.Tool(name)
	p, err := b.registry.Resolve(name, plugin.Config{Argv: tc.Argv, Dir: tc.Dir, Optional: tc.Optional})
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	return p, nil
}

func (b *builder) linter(name string) (plugin.Linter, error) {
	tc := b.cfg.Tool(name)
	l, err := b.registry.ResolveLinter(name, plugin.Config{Argv: tc.Argv, Dir: tc.Dir, Optional: tc.Optional})
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	return l, nil
}

func (b *builder) tools(names ...string) ([]plugin.Plugin, error) {
	out := make([]plugin.Plugin, len(names))
	for i, name := range names {
		p, err := b.tool(name)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// styles: sass, autoprefixer, then an expanded and a minified copy. Lint and
// the expanded copy are development-only.
func (b *builder) styles() (task.Task, error) {
	plugins, err := b.tools(ToolSass, ToolAutoprefixer, ToolCSSMin)
	if err != nil {
		return task.Task{}, err
	}
	sass, prefixer, cssmin := plugins[0], plugins[1], plugins[2]
	var lint plugin.Linter = plugin.LintFunc{Label: ToolSCSSLint}
	if !b.production() {
		if lint, err = b.linter(ToolSCSSLint); err != nil {
			return task.Task{}, err
		}
	}
	out := b.cfg.OutputDir("css")
	return task.Task{
		ID:          TaskStyles,
		Description: "compile Sass into prefixed and minified CSS",
		Concurrency: task.ParallelSafe,
		Outputs:     []string{out},
		Notify:      true,
		Action: b.pipeline(TaskStyles,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Styles)),
			pipeline.SkipPartials(),
			pipeline.When(!b.production(), pipeline.Lint(lint)),
			pipeline.Transform(sass),
			pipeline.Transform(plugin.SetExt(".css")),
			pipeline.Transform(prefixer),
			pipeline.When(!b.production(), pipeline.Emit(out)),
			pipeline.Rename(".min"),
			pipeline.Transform(cssmin),
			pipeline.Emit(out),
			pipeline.Size("Styles"),
		),
	}, nil
}

// lint checks every stylesheet, partials included, and writes nothing.
func (b *builder) lint() (task.Task, error) {
	l, err := b.linter(ToolSCSSLint)
	if err != nil {
		return task.Task{}, err
	}
	return task.Task{
		ID:          TaskLint,
		Description: "lint Sass sources",
		Concurrency: task.ParallelSafe,
		Action: b.pipeline(TaskLint,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Styles)),
			pipeline.Lint(l),
		),
	}, nil
}

// scripts: hint, concatenate into core.js, then uglify into core.min.js.
func (b *builder) scripts() (task.Task, error) {
	uglify, err := b.tool(ToolUglify)
	if err != nil {
		return task.Task{}, err
	}
	var hint plugin.Linter = plugin.LintFunc{Label: ToolJSHint}
	if !b.production() {
		if hint, err = b.linter(ToolJSHint); err != nil {
			return task.Task{}, err
		}
	}
	out := b.cfg.OutputDir("js")
	return task.Task{
		ID:          TaskScripts,
		Description: "hint, concatenate and minify application scripts",
		Concurrency: task.ParallelSafe,
		Outputs:     []string{path.Join(out, "core.js"), path.Join(out, "core.min.js")},
		Notify:      true,
		Action: b.pipeline(TaskScripts,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Scripts)),
			pipeline.When(!b.production(), pipeline.Lint(hint)),
			pipeline.Concat("core.js"),
			pipeline.When(!b.production(), pipeline.Emit(out)),
			pipeline.Transform(uglify),
			pipeline.Rename(".min"),
			pipeline.Emit(out),
			pipeline.Size("Scripts"),
		),
	}, nil
}

// vendorScripts minifies third-party scripts one by one, keeping their names.
func (b *builder) vendorScripts() (task.Task, error) {
	uglify, err := b.tool(ToolUglify)
	if err != nil {
		return task.Task{}, err
	}
	out := path.Join(b.cfg.OutputDir("js"), "vendor")
	return task.Task{
		ID:          TaskVendorScripts,
		Description: "minify vendor scripts",
		Concurrency: task.ParallelSafe,
		Outputs:     []string{out},
		Notify:      true,
		Action: b.pipeline(TaskVendorScripts,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Vendor)),
			pipeline.Transform(uglify),
			pipeline.Emit(out),
			pipeline.Size("Vendor Scripts"),
		),
	}, nil
}

// images optimizes every image. Results are cached by content so unchanged
// images skip the optimizer on later runs in the same process.
func (b *builder) images() (task.Task, error) {
	imagemin, err := b.tool(ToolImagemin)
	if err != nil {
		return task.Task{}, err
	}
	cached, err := plugin.NewCached(imagemin, b.cfg.Project.Pipeline.CacheSize)
	if err != nil {
		return task.Task{}, fmt.Errorf("assets: %w", err)
	}
	out := b.cfg.OutputDir("img")
	return task.Task{
		ID:          TaskImages,
		Description: "optimize images",
		Concurrency: task.ParallelSafe,
		Outputs:     []string{out},
		Notify:      true,
		Action: b.pipeline(TaskImages,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Images)),
			pipeline.Transform(cached),
			pipeline.Emit(out),
			pipeline.Size("Images"),
		),
	}, nil
}

// svgSymbols folds the icons into one symbol sprite.
func (b *builder) svgSymbols() (task.Task, error) {
	out := b.cfg.OutputDir("img")
	return task.Task{
		ID:          TaskSVGSymbols,
		Description: "build the SVG icon sprite",
		Concurrency: task.Exclusive,
		Outputs:     []string{path.Join(out, b.spriteName())},
		Action: b.pipeline(TaskSVGSymbols,
			pipeline.Source(b.cfg.SourceGlob(b.cfg.Project.Globs.Icons)),
			pipeline.Combine(plugin.Sprite{Prefix: SymbolPrefix}, b.spriteName()),
			pipeline.Emit(out),
			pipeline.Size("Sprite"),
		),
	}, nil
}

// inject copies the sprite into the template. It reads the sprite the
// previous task wrote, so it must run after svgSymbols and alone.
func (b *builder) inject() (task.Task, error) {
	sprite := path.Join(b.cfg.OutputDir("img"), b.spriteName())
	template := b.cfg.Project.Inject.Template
	abs := filepath.Join(b.cfg.ProjectDir, filepath.FromSlash(template))
	return task.Task{
		ID:          TaskInject,
		Description: "inject the sprite into " + template,
		DependsOn:   []string{TaskSVGSymbols},
		Concurrency: task.Exclusive,
		Outputs:     []string{template},
		Notify:      true,
		Action: b.pipeline(TaskInject,
			pipeline.Custom("inject", func(_ context.Context, bundle *pipeline.Bundle) error {
				data, err := b.currentSprite(bundle.Root(), sprite)
				if err != nil {
					return err
				}
				if data == nil {
					removed, err := inject.RemoveFile(bundleWriter{bundle}, abs)
					if removed {
						b.printf("inject: no icons, removed sprite block from %s", template)
					}
					return err
				}
				_, err = inject.InjectFile(bundleWriter{bundle}, abs, data)
				return err
			}),
			pipeline.Size("Inject"),
		),
	}, nil
}

// currentSprite returns the sprite svgSymbols wrote, or nil when no icon
// matches the icons glob. A sprite left over from removed icons is ignored.
func (b *builder) currentSprite(root, sprite string) ([]byte, error) {
	icons, err := doublestar.Glob(os.DirFS(root), b.cfg.SourceGlob(b.cfg.Project.Globs.Icons), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("assets: icons: %w", err)
	}
	if len(icons) == 0 {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(sprite)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (b *builder) printf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

func (b *builder) spriteName() string {
	return b.cfg.Project.Inject.Sprite
}

// bundleWriter stages template rewrites so they are committed with the rest
// of the task's output.
type bundleWriter struct {
	bundle *pipeline.Bundle
}

func (w bundleWriter) WriteAtomic(path string, data []byte) error {
	w.bundle.Stage(path, data)
	return nil
}

func (b *builder) rules() []watcher.Rule {
	globs := b.cfg.Project.Globs
	rules := []watcher.Rule{
		{Name: TaskStyles, Patterns: []string{b.recursive(globs.Styles)}, Tasks: []string{TaskStyles}, Notify: true},
		{Name: TaskScripts, Patterns: []string{b.cfg.SourceGlob(globs.Scripts)}, Tasks: []string{TaskScripts}, Notify: true},
	}
	if b.cfg.Project.Variant.VendorScripts {
		rules = append(rules, watcher.Rule{Name: TaskVendorScripts, Patterns: []string{b.cfg.SourceGlob(globs.Vendor)}, Tasks: []string{TaskVendorScripts}, Notify: true})
	}
	rules = append(rules,
		watcher.Rule{Name: TaskImages, Patterns: []string{b.cfg.SourceGlob(globs.Images)}, Tasks: []string{TaskImages}, Notify: true},
		// inject follows svgSymbols as a dependent and reloads itself.
		watcher.Rule{Name: TaskSVGSymbols, Patterns: []string{b.cfg.SourceGlob(globs.Icons)}, Tasks: []string{TaskSVGSymbols}},
	)
	if len(globs.Templates) > 0 {
		patterns := make([]string, len(globs.Templates))
		for i, glob := range globs.Templates {
			patterns[i] = b.cfg.SourceGlob(glob)
		}
		rules = append(rules, watcher.Rule{Name: "templates", Patterns: patterns, Notify: true})
	}
	return rules
}

// recursive widens a stylesheet glob to every file with the same extension
// below its base, so edits to partials in subdirectories rebuild too.
func (b *builder) recursive(glob string) string {
	base, rest := doublestar.SplitPattern(glob)
	ext := path.Ext(rest)
	if ext == "" || strings.ContainsAny(ext, "*?[{\\") {
		return b.cfg.SourceGlob(glob)
	}
	return b.cfg.SourceGlob(path.Join(base, "**", "*"+ext))
}
