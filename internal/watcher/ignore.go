package watcher

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnore lists the paths no watch ever reacts to.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	".assetflow/**",
}

var editorSuffixes = []string{"~", ".swp", ".swx", ".tmp"}

// Ignore decides which changed paths are noise. Patterns use doublestar
// syntax relative to the project root.
type Ignore struct {
	patterns []string
}

// NewIgnore builds a matcher from DefaultIgnore plus extra patterns.
func NewIgnore(extra ...string) (*Ignore, error) {
	ig := &Ignore{}
	for _, p := range append(append([]string{}, DefaultIgnore...), extra...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "./")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watcher: invalid ignore pattern %q", p)
		}
		ig.patterns = append(ig.patterns, p)
	}
	return ig, nil
}

// IgnoreDir returns the pattern that ignores everything below dir.
func IgnoreDir(dir string) string {
	dir = strings.Trim(path.Clean(strings.ReplaceAll(dir, "\\", "/")), "/")
	return escapeMeta(dir) + "/**"
}

// escapeMeta backslash-escapes the glob metacharacters in s.
func escapeMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\*?[{`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Match reports whether rel (slash separated, relative to the root) should
// be ignored. Editor swap and backup files and the pipeline's own temp
// files always are.
func (ig *Ignore) Match(rel string) bool {
	base := path.Base(rel)
	for _, suffix := range editorSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	if strings.HasPrefix(base, ".") && strings.Contains(base, ".tmp-") {
		return true
	}
	if ig == nil {
		return false
	}
	for _, p := range ig.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if dir := strings.TrimSuffix(p, "/**"); dir != p {
			if ok, _ := doublestar.Match(dir, rel); ok {
				return true
			}
		}
	}
	return false
}
