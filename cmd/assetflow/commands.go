package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/assets"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/task"
)

const defaultHistoryLines = 20

func (c *CLI) targetCommand(name, short string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     name,
		Short:   short,
		Aliases: aliases,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runTarget(cmd, name)
		},
	}
}

func (c *CLI) runTarget(cmd *cobra.Command, name string) error {
	p, err := c.open(cmd, openOptions{production: assets.TargetProduction(name)})
	if err != nil {
		return err
	}
	defer p.Close()
	target, err := p.catalog.Target(name)
	if err != nil {
		return err
	}
	orch, err := p.orchestrator()
	if err != nil {
		return err
	}
	p.logger.Printf("target %s: %s", name, strings.Join(target.Tasks, ", "))
	var report task.Report
	if target.Clean {
		report, err = orch.Build(cmd.Context(), target.Tasks...)
	} else {
		report, err = orch.Run(cmd.Context(), task.Request{Targets: target.Tasks, Trigger: task.Manual()})
	}
	return finishRun(cmd, report, err)
}

func (c *CLI) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>...",
		Short: "Run the named tasks and everything they depend on",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.open(cmd, openOptions{})
			if err != nil {
				return err
			}
			defer p.Close()
			orch, err := p.orchestrator()
			if err != nil {
				return err
			}
			report, err := orch.Run(cmd.Context(), task.Request{
				Targets: args,
				Trigger: task.Manual(),
				Expand:  task.ExpandPredecessors,
			})
			return finishRun(cmd, report, err)
		},
	}
}

// finishRun prints the report and turns task failures into a short error so
// the process exits non-zero.
func finishRun(cmd *cobra.Command, report task.Report, err error) error {
	if len(report.Results) > 0 {
		printReport(cmd.OutOrStdout(), report)
	}
	if err == nil {
		return nil
	}
	var partial *task.PartialFailureError
	if errors.As(err, &partial) {
		ids := make([]string, 0, len(partial.Failed))
		for _, res := range partial.Failed {
			ids = append(ids, res.TaskID)
		}
		return fmt.Errorf("build failed: %s", strings.Join(ids, ", "))
	}
	return err
}

func (c *CLI) cleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the generated output directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.open(cmd, openOptions{})
			if err != nil {
				return err
			}
			defer p.Close()
			orch, err := p.orchestrator()
			if err != nil {
				return err
			}
			if err := orch.Clean(cmd.Context()); err != nil {
				return err
			}
			for _, dir := range p.catalog.Clean {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("removed"), dir)
			}
			return nil
		},
	}
}

func (c *CLI) planCommand() *cobra.Command {
	var stages bool
	cmd := &cobra.Command{
		Use:   "plan [target|task]...",
		Short: "Print the execution layers for targets or tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.open(cmd, openOptions{})
			if err != nil {
				return err
			}
			defer p.Close()
			ids, err := planTargets(p.catalog, args)
			if err != nil {
				return err
			}
			plan, err := p.graph.ResolveOrder(ids...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, layer := range plan.Layers() {
				fmt.Fprintf(out, "%s %s\n", headerStyle.Render(fmt.Sprintf("%d.", i+1)), strings.Join(layer, ", "))
				if !stages {
					continue
				}
				for _, id := range layer {
					t, _ := plan.Task(id)
					line := fmt.Sprintf("%s [%s]", id, t.Concurrency)
					if deps := plan.Dependencies(id); len(deps) > 0 {
						line += " after " + strings.Join(deps, ", ")
					}
					fmt.Fprintf(out, "   %s\n", line)
					if names := t.Stages(); len(names) > 0 {
						fmt.Fprintf(out, "     %s\n", detailStyle.Render(strings.Join(names, " → ")))
					}
				}
			}
			fmt.Fprintf(out, "%d task(s)\n", plan.Len())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&stages, "stages", "s", false, "list each task's pipeline stages")
	return cmd
}

// planTargets expands target names into their tasks; other arguments are
// taken as task ids. No arguments plans the default target.
func planTargets(catalog *assets.Catalog, args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{assets.TargetDefault}
	}
	var ids []string
	for _, arg := range args {
		if target, ok := catalog.Targets[arg]; ok {
			ids = append(ids, target.Tasks...)
			continue
		}
		if _, ok := catalog.Task(arg); !ok {
			return nil, &task.UnknownTaskError{ID: arg}
		}
		ids = append(ids, arg)
	}
	return ids, nil
}

func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare generated outputs against the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.open(cmd, openOptions{})
			if err != nil {
				return err
			}
			defer p.Close()
			out := cmd.OutOrStdout()
			snap, err := orchestrator.NewRepository(p.cfg.StateDir()).Load()
			switch {
			case errors.Is(err, orchestrator.ErrStateNotFound):
				fmt.Fprintln(out, detailStyle.Render("No run recorded yet."))
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "%s %s at %s in %s\n", headerStyle.Render("Last run:"), snap.Trigger,
					snap.StartedAt.Local().Format(time.DateTime), snap.Duration.Round(time.Millisecond))
				for _, ts := range snap.Tasks {
					fmt.Fprintf(out, "  %s %s\n", outcomeLabel(ts.Outcome), ts.ID)
				}
			}

			results, err := p.store.Status()
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(out, detailStyle.Render("No outputs tracked."))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render("Outputs:"))
			counts := map[artifact.State]int{}
			for _, res := range results {
				counts[res.State]++
				fmt.Fprintf(out, "  %s %s %s\n", stateLabel(res.State), res.Path, detailStyle.Render(res.TaskID))
			}
			fmt.Fprintf(out, "%d ready, %d modified, %d missing\n",
				counts[artifact.StateReady], counts[artifact.StateModified], counts[artifact.StateMissing])
			return nil
		},
	}
}

func outcomeLabel(o task.Outcome) string {
	text := fmt.Sprintf("%-7s", o)
	switch o {
	case task.OutcomeSuccess:
		return okStyle.Render(text)
	case task.OutcomeSkipped:
		return skippedStyle.Render(text)
	default:
		return errorStyle.Render(text)
	}
}

func stateLabel(s artifact.State) string {
	text := fmt.Sprintf("%-9s", s)
	switch s {
	case artifact.StateReady:
		return okStyle.Render(text)
	case artifact.StateUntracked:
		return skippedStyle.Render(text)
	default:
		return errorStyle.Render(text)
	}
}

func (c *CLI) historyCommand() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent entries of the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			lb, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
			if err != nil {
				return err
			}
			entries, total := lb.Tail(lines)
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, detailStyle.Render("No runs recorded yet."))
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintln(out, entry)
			}
			fmt.Fprintln(out, detailStyle.Render(fmt.Sprintf("showing %d of %d entries", len(entries), total)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", defaultHistoryLines, "number of entries to show")
	return cmd
}

func (c *CLI) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := c.projectDir()
			if err != nil {
				return err
			}
			created, err := config.Init(dir)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("wrote"), config.FileName)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", config.FileName)
			}
			return nil
		},
	}
}
