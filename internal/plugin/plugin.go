// Package plugin adapts the external tools of the asset pipeline (compilers,
// prefixers, minifiers, linters, optimizers) and the few built-in transforms
// behind one narrow interface.
package plugin

import (
	"context"
	"path"
	"strings"
)

// Asset is one file flowing through a pipeline.
type Asset struct {
	// Source is the path the asset was read from. It stays fixed as the
	// asset is transformed and is what tool argv placeholders expand to.
	Source string
	// Rel is the asset's output name relative to the destination directory,
	// always slash separated.
	Rel  string
	Data []byte
}

// Name returns the base name of the output path.
func (a Asset) Name() string {
	return path.Base(a.Rel)
}

// Ext returns the output extension including the dot.
func (a Asset) Ext() string {
	return path.Ext(a.Rel)
}

// WithExt replaces the output extension.
func (a Asset) WithExt(ext string) Asset {
	a.Rel = strings.TrimSuffix(a.Rel, path.Ext(a.Rel)) + ext
	return a
}

// Plugin transforms a single asset.
type Plugin interface {
	Name() string
	Transform(ctx context.Context, in Asset) (Asset, error)
}

// Combiner folds a set of assets into one.
type Combiner interface {
	Name() string
	Combine(ctx context.Context, name string, in []Asset) (Asset, error)
}

// Func adapts a function into a Plugin.
type Func struct {
	Label string
	Fn    func(ctx context.Context, in Asset) (Asset, error)
}

// Name returns the label.
func (f Func) Name() string { return f.Label }

// Transform calls the wrapped function.
func (f Func) Transform(ctx context.Context, in Asset) (Asset, error) {
	if f.Fn == nil {
		return in, nil
	}
	return f.Fn(ctx, in)
}

type copyPlugin struct {
	name string
}

// Copy returns an identity plugin. It stands in for optional optimizers that
// have no command configured.
func Copy(name string) Plugin {
	if name == "" {
		name = "copy"
	}
	return copyPlugin{name: name}
}

func (c copyPlugin) Name() string { return c.name }

func (c copyPlugin) Transform(_ context.Context, in Asset) (Asset, error) {
	return in, nil
}

type renamePlugin struct {
	suffix string
}

// Rename inserts suffix before the extension, so main.css becomes
// main.min.css for suffix ".min".
func Rename(suffix string) Plugin {
	return renamePlugin{suffix: suffix}
}

func (r renamePlugin) Name() string { return "rename" }

func (r renamePlugin) Transform(_ context.Context, in Asset) (Asset, error) {
	ext := path.Ext(in.Rel)
	in.Rel = strings.TrimSuffix(in.Rel, ext) + r.suffix + ext
	return in, nil
}

type extPlugin struct {
	ext string
}

// SetExt replaces each asset's extension, so main.scss becomes main.css
// after compilation.
func SetExt(ext string) Plugin {
	return extPlugin{ext: ext}
}

func (e extPlugin) Name() string { return "ext" }

func (e extPlugin) Transform(_ context.Context, in Asset) (Asset, error) {
	return in.WithExt(e.ext), nil
}

type concatCombiner struct {
	separator []byte
}

// Concat joins assets in order, separated by a newline.
func Concat() Combiner {
	return concatCombiner{separator: []byte("\n")}
}

func (c concatCombiner) Name() string { return "concat" }

func (c concatCombiner) Combine(_ context.Context, name string, in []Asset) (Asset, error) {
	var size int
	for _, a := range in {
		size += len(a.Data) + len(c.separator)
	}
	out := make([]byte, 0, size)
	for i, a := range in {
		if i > 0 && len(out) > 0 && out[len(out)-1] != '\n' {
			out = append(out, c.separator...)
		}
		out = append(out, a.Data...)
	}
	source := ""
	if len(in) > 0 {
		source = in[0].Source
	}
	return Asset{Source: source, Rel: name, Data: out}, nil
}
