package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kingrea/assetflow/internal/artifact"
	"github.com/kingrea/assetflow/internal/assets"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/graph"
	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/metrics"
	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/plugin"
)

// CLI holds the command line state shared by every subcommand.
type CLI struct {
	dir        string
	configFile string
	production bool
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	// newRegistry builds the tool registry. Tests swap in built-in plugins.
	newRegistry func(cfg *config.Config, opts ...plugin.LintOption) *plugin.Registry
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&CLI{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		newRegistry: defaultRegistry,
	})
}

func newRootCommand(cli *CLI) *cobra.Command {
	root := &cobra.Command{
		Use:           "assetflow",
		Short:         "Build, watch and live-reload front-end assets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.stdout)
	root.SetErr(cli.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&cli.dir, "dir", "C", "", "project directory (defaults to the working directory)")
	flags.StringVarP(&cli.configFile, "config", "c", "", "configuration file (defaults to "+config.FileName+")")
	flags.BoolVarP(&cli.production, "production", "p", false, "emit minified output only")
	flags.BoolVarP(&cli.verbose, "verbose", "v", false, "mirror the log to stderr")

	root.AddCommand(
		cli.targetCommand(assets.TargetDev, "Build scripts and styles once, unminified"),
		cli.targetCommand(assets.TargetBuild, "Clean, then build every asset for production", assets.TargetDefault),
		cli.targetCommand(assets.TargetLint, "Lint the stylesheets"),
		cli.watchCommand(),
		cli.cleanCommand(),
		cli.planCommand(),
		cli.runCommand(),
		cli.statusCommand(),
		cli.historyCommand(),
		cli.initCommand(),
	)
	return root
}

func defaultRegistry(_ *config.Config, opts ...plugin.LintOption) *plugin.Registry {
	return plugin.NewRegistry(opts...)
}

// project is everything a command needs once the configuration is loaded.
type project struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    *artifact.Store
	catalog  *assets.Catalog
	graph    *graph.Graph
	runs     *logbook.Logbook
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

type openOptions struct {
	// production overrides the configured flag unless --production is set.
	production *bool
	// quiet keeps the log off stderr, for full-screen output.
	quiet bool
}

func (c *CLI) projectDir() (string, error) {
	dir := c.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	return filepath.Abs(dir)
}

func (c *CLI) loadConfig() (*config.Config, error) {
	dir, err := c.projectDir()
	if err != nil {
		return nil, err
	}
	return config.Load(dir, c.configFile)
}

// open loads the configuration and builds the task graph. The project is
// closed by the caller.
func (c *CLI) open(cmd *cobra.Command, opts openOptions) (*project, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.Flags().Changed("production"):
		cfg.SetProduction(c.production)
	case opts.production != nil:
		cfg.SetProduction(*opts.production)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	var logOpts []logging.Option
	if c.verbose && !opts.quiet {
		logOpts = append(logOpts, logging.WithMirror(c.stderr))
	}
	logger, err := logging.New(cfg.LogsDir(), logOpts...)
	if err != nil {
		return nil, err
	}
	p := &project{cfg: cfg, logger: logger}
	if err := p.build(c); err != nil {
		p.Close()
		return nil, err
	}
	logger.Printf("open %s (production=%t)", cfg.ProjectDir, cfg.Production())
	return p, nil
}

func (p *project) build(c *CLI) error {
	var err error
	p.runs, err = logbook.New(filepath.Join(p.cfg.LogsDir(), logbook.FileName))
	if err != nil {
		return err
	}
	p.registry = prometheus.NewRegistry()
	p.metrics, err = metrics.New(p.registry)
	if err != nil {
		return err
	}
	lintOpts := []plugin.LintOption{plugin.WithLintLogger(p.logger)}
	if !p.cfg.Project.Lint.FailOnError {
		lintOpts = append(lintOpts, plugin.WarnOnly())
	}
	p.store = artifact.NewStore(p.cfg.ProjectDir, p.cfg.StateDir())
	p.catalog, err = assets.New(p.cfg, c.newRegistry(p.cfg, lintOpts...), p.store, assets.WithLogger(p.logger))
	if err != nil {
		return err
	}
	p.graph, err = graph.New(p.catalog.Tasks...)
	return err
}

// orchestrator wires the run observers every command shares.
func (p *project) orchestrator(extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(p.logger),
		orchestrator.WithObservers(p.runs, p.metrics),
		orchestrator.WithClean(p.store, p.catalog.Clean...),
		orchestrator.WithRunStore(orchestrator.NewRepository(p.cfg.StateDir())),
		orchestrator.WithMaxParallel(p.cfg.Project.Pipeline.MaxParallel),
	}
	return orchestrator.New(p.graph, append(opts, extra...)...)
}

// Close flushes the log file.
func (p *project) Close() {
	if p.logger != nil {
		_ = p.logger.Close()
	}
}
