package assets

import (
	"fmt"
	"sort"
)

// Named targets.
const (
	TargetDev     = "dev"
	TargetBuild   = "build"
	TargetDefault = "default"
	TargetLint    = "lint"
)

// Target is a named selection of tasks run from the command line.
type Target struct {
	Name        string
	Description string
	Tasks       []string
	// Clean removes the generated directories before running.
	Clean bool
	// Production, when set, overrides the configured production flag.
	Production *bool
}

// Target looks up a named target.
func (c *Catalog) Target(name string) (Target, error) {
	t, ok := c.Targets[name]
	if !ok {
		return Target{}, fmt.Errorf("assets: unknown target %q (known: %v)", name, c.TargetNames())
	}
	return t, nil
}

// TargetNames lists the target names, sorted.
func (c *Catalog) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TargetProduction returns the production flag a named target forces, or nil
// when the target keeps the configured value. The catalog bakes production
// mode into its pipelines, so callers apply this before building it.
func TargetProduction(name string) *bool {
	switch name {
	case TargetDev:
		return boolPtr(false)
	case TargetBuild, TargetDefault:
		return boolPtr(true)
	}
	return nil
}

func (b *builder) targets() map[string]Target {
	full := []string{TaskStyles, TaskScripts}
	if b.cfg.Project.Variant.VendorScripts {
		full = append(full, TaskVendorScripts)
	}
	full = append(full, TaskImages, TaskSVGSymbols)
	if b.cfg.Project.Inject.Enabled {
		full = append(full, TaskInject)
	}
	build := Target{
		Name:        TargetBuild,
		Description: "clean, then build every asset with production output",
		Tasks:       full,
		Clean:       true,
		Production:  TargetProduction(TargetBuild),
	}
	def := build
	def.Name = TargetDefault
	def.Tasks = append([]string{}, full...)
	return map[string]Target{
		TargetDev: {
			Name:        TargetDev,
			Description: "build scripts and styles once, unminified extras included",
			Tasks:       []string{TaskScripts, TaskStyles},
			Production:  TargetProduction(TargetDev),
		},
		TargetBuild:   build,
		TargetDefault: def,
		TargetLint: {
			Name:        TargetLint,
			Description: "lint the stylesheets",
			Tasks:       []string{TaskLint},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}
