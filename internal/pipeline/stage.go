package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/assetflow/internal/plugin"
)

// Stage is one named step of a pipeline.
type Stage struct {
	name  string
	apply func(ctx context.Context, b *Bundle) error
}

// Name returns the stage label used in errors and plans.
func (s Stage) Name() string { return s.name }

func (s Stage) isZero() bool { return s.apply == nil }

// Custom builds a stage from a function over the whole bundle.
func Custom(name string, fn func(ctx context.Context, b *Bundle) error) Stage {
	return Stage{name: name, apply: fn}
}

// When returns stage if cond holds and an empty stage otherwise. Empty
// stages are dropped when the pipeline is built.
func When(cond bool, stage Stage) Stage {
	if !cond {
		return Stage{}
	}
	return stage
}

// Source reads every file matching the patterns, relative to the bundle
// root. Each asset's output name is its path below the static prefix of the
// pattern that matched it. Results are sorted so output is stable.
func Source(patterns ...string) Stage {
	return Stage{name: "source", apply: func(_ context.Context, b *Bundle) error {
		seen := map[string]bool{}
		var assets []plugin.Asset
		for _, pattern := range patterns {
			matched, err := b.glob(pattern)
			if err != nil {
				return err
			}
			for _, asset := range matched {
				if seen[asset.Source] {
					continue
				}
				seen[asset.Source] = true
				assets = append(assets, asset)
			}
		}
		sort.SliceStable(assets, func(i, j int) bool { return assets[i].Source < assets[j].Source })
		b.Assets = append(b.Assets, assets...)
		return nil
	}}
}

// File reads a single file and names it rel.
func File(name, rel string) Stage {
	return Stage{name: "read", apply: func(_ context.Context, b *Bundle) error {
		data, err := os.ReadFile(b.abs(name))
		if err != nil {
			return err
		}
		b.Assets = append(b.Assets, plugin.Asset{Source: filepath.ToSlash(name), Rel: rel, Data: data})
		return nil
	}}
}

// SkipPartials drops Sass partials, files whose name starts with "_".
func SkipPartials() Stage {
	return Filter("skip-partials", func(a plugin.Asset) bool {
		return !strings.HasPrefix(a.Name(), "_")
	})
}

// Filter keeps the assets for which keep returns true.
func Filter(name string, keep func(plugin.Asset) bool) Stage {
	return Stage{name: name, apply: func(_ context.Context, b *Bundle) error {
		kept := b.Assets[:0]
		for _, a := range b.Assets {
			if keep(a) {
				kept = append(kept, a)
			}
		}
		b.Assets = kept
		return nil
	}}
}

// Transform runs p over every asset on a bounded worker pool. Output order
// matches input order.
func Transform(p plugin.Plugin) Stage {
	return Stage{name: p.Name(), apply: func(ctx context.Context, b *Bundle) error {
		out := make([]plugin.Asset, len(b.Assets))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.workers())
		for i, asset := range b.Assets {
			g.Go(func() error {
				transformed, err := p.Transform(gctx, asset)
				if err != nil {
					return fmt.Errorf("%s: %w", asset.Source, err)
				}
				out[i] = transformed
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		b.Assets = out
		return nil
	}}
}

// Rename inserts suffix before each asset's extension.
func Rename(suffix string) Stage {
	return Transform(plugin.Rename(suffix))
}

// Combine folds the bundle into one asset called name. An empty bundle stays
// empty.
func Combine(c plugin.Combiner, name string) Stage {
	return Stage{name: c.Name(), apply: func(ctx context.Context, b *Bundle) error {
		if len(b.Assets) == 0 {
			return nil
		}
		combined, err := c.Combine(ctx, name, b.Assets)
		if err != nil {
			return err
		}
		b.Assets = []plugin.Asset{combined}
		return nil
	}}
}

// Concat joins the bundle into a single file.
func Concat(name string) Stage {
	return Combine(plugin.Concat(), name)
}

// Lint runs l over every asset without changing the bundle. Every failure is
// reported, not only the first.
func Lint(l plugin.Linter) Stage {
	return Stage{name: l.Name(), apply: func(ctx context.Context, b *Bundle) error {
		errs := make([]error, len(b.Assets))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.workers())
		for i, asset := range b.Assets {
			g.Go(func() error {
				errs[i] = l.Lint(gctx, asset)
				return nil
			})
		}
		_ = g.Wait()
		return errors.Join(errs...)
	}}
}

// Emit stages the current bundle under dir. A later emit of the same path
// replaces the earlier one.
func Emit(dir string) Stage {
	return Stage{name: "emit", apply: func(_ context.Context, b *Bundle) error {
		for _, a := range b.Assets {
			b.stage(filepath.Join(dir, filepath.FromSlash(a.Rel)), a.Data)
		}
		return nil
	}}
}

// Size titles the summary reported for the task.
func Size(title string) Stage {
	return Stage{name: "size", apply: func(_ context.Context, b *Bundle) error {
		b.title = title
		return nil
	}}
}

// Bundle is the in-memory state a pipeline threads through its stages.
type Bundle struct {
	Assets []plugin.Asset

	root   string
	limit  int
	title  string
	mu     sync.Mutex
	order  []string
	staged map[string][]byte
}

func newBundle(root string, workers int) *Bundle {
	return &Bundle{root: root, limit: workers, staged: map[string][]byte{}}
}

// Stage records data for path. Custom stages use it to emit files.
func (b *Bundle) Stage(path string, data []byte) {
	b.stage(path, data)
}

// Root returns the directory relative paths resolve against.
func (b *Bundle) Root() string { return b.root }

func (b *Bundle) stage(path string, data []byte) {
	path = filepath.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.staged[path]; !exists {
		b.order = append(b.order, path)
	}
	b.staged[path] = append([]byte(nil), data...)
}

func (b *Bundle) workers() int {
	if b.limit <= 0 {
		return 1
	}
	return b.limit
}

func (b *Bundle) abs(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(b.root, name)
}

func (b *Bundle) glob(pattern string) ([]plugin.Asset, error) {
	base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
	dir := b.abs(filepath.FromSlash(base))
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s: %s is not a directory", pattern, base)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), rest, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", pattern, err)
	}
	sort.Strings(matches)
	assets := make([]plugin.Asset, 0, len(matches))
	for _, match := range matches {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(match)))
		if err != nil {
			return nil, err
		}
		assets = append(assets, plugin.Asset{
			Source: path.Join(base, match),
			Rel:    match,
			Data:   data,
		})
	}
	return assets, nil
}
