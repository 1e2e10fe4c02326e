package watcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule maps changed paths to tasks. A rule with Notify and no tasks reloads
// browsers directly, which is how template edits are handled.
type Rule struct {
	Name     string
	Patterns []string
	Tasks    []string
	Notify   bool
}

// Validate checks the rule's patterns.
func (r Rule) Validate() error {
	if len(r.Patterns) == 0 {
		return fmt.Errorf("watcher: rule %s has no patterns", r.label())
	}
	if len(r.Tasks) == 0 && !r.Notify {
		return fmt.Errorf("watcher: rule %s neither runs tasks nor reloads", r.label())
	}
	for _, p := range r.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("watcher: rule %s: invalid pattern %q", r.label(), p)
		}
	}
	return nil
}

// Match reports whether rel matches any of the rule's patterns.
func (r Rule) Match(rel string) bool {
	for _, p := range r.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Bases returns the static directory prefixes of the patterns, the
// directories a watch must cover.
func (r Rule) Bases() []string {
	seen := map[string]bool{}
	var bases []string
	for _, p := range r.Patterns {
		base, _ := doublestar.SplitPattern(p)
		if !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
	}
	sort.Strings(bases)
	return bases
}

func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return strings.Join(r.Patterns, ",")
}

// Match is the outcome of routing one path.
type Match struct {
	Tasks  []string
	Notify bool
	// Reload is set when a notify-only rule matched.
	Reload bool
}

// Route applies every rule to rel.
func Route(rules []Rule, rel string) (Match, bool) {
	var m Match
	matched := false
	for _, rule := range rules {
		if !rule.Match(rel) {
			continue
		}
		matched = true
		m.Tasks = append(m.Tasks, rule.Tasks...)
		if rule.Notify {
			m.Notify = true
			if len(rule.Tasks) == 0 {
				m.Reload = true
			}
		}
	}
	return m, matched
}
