package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/assetflow/internal/livereload"
	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/task"
	"github.com/kingrea/assetflow/internal/tui"
	"github.com/kingrea/assetflow/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func (c *CLI) watchCommand() *cobra.Command {
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start the live-reload proxy and rebuild assets on change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runWatch(cmd, dashboard)
		},
	}
	cmd.Flags().BoolVar(&dashboard, "tui", false, "show the interactive dashboard")
	return cmd
}

func (c *CLI) runWatch(cmd *cobra.Command, dashboard bool) error {
	p, err := c.open(cmd, openOptions{quiet: dashboard})
	if err != nil {
		return err
	}
	defer p.Close()
	cfg := p.cfg

	settings := livereload.SettingsFromConfig(cfg)
	hub := livereload.NewHub(
		livereload.WithHubLogger(p.logger),
		livereload.WithMetrics(p.metrics),
		livereload.WithWriteWait(settings.WriteWait),
	)
	server := livereload.NewServer(settings,
		livereload.WithHub(hub),
		livereload.WithLogger(p.logger),
		livereload.WithGatherer(p.registry),
	)
	if err := server.Start(cmd.Context()); err != nil {
		if !errors.Is(err, livereload.ErrDisabled) {
			return err
		}
		p.logger.Printf("watch: live reload disabled")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			p.logger.Printf("watch: shutdown: %v", err)
		}
	}()

	var (
		notifier  tui.Notifier = hub
		observers []orchestrator.Observer
		feed      *tui.Feed
	)
	if dashboard {
		feed = tui.NewFeed(tui.DefaultFeedBuffer)
		defer feed.Close()
		notifier = tui.Tee(hub, feed)
		observers = append(observers, feed)
	}
	orch, err := p.orchestrator(
		orchestrator.WithNotifier(notifier),
		orchestrator.WithObservers(observers...),
	)
	if err != nil {
		return err
	}

	patterns := append([]string{watcher.IgnoreDir(cfg.Dest())}, cfg.Project.Watch.Ignore...)
	ignore, err := watcher.NewIgnore(patterns...)
	if err != nil {
		return err
	}
	source, err := watcher.NewFSNotify(cfg.ProjectDir, ignore)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer source.Close()

	routerOpts := []watcher.Option{
		watcher.WithDebounce(cfg.Project.Watch.Debounce),
		watcher.WithNotifier(notifier),
		watcher.WithIgnore(ignore),
		watcher.WithLogger(p.logger),
	}
	out := cmd.OutOrStdout()
	if dashboard {
		routerOpts = append(routerOpts, watcher.WithStateHook(feed.SetState))
	} else {
		routerOpts = append(routerOpts, watcher.WithRunHook(func(report task.Report, err error) {
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("▸"), report.Trigger)
			printReport(out, report)
			if err != nil && len(report.Results) == 0 {
				fmt.Fprintln(out, errorStyle.Render(err.Error()))
			}
		}))
	}
	router, err := watcher.NewRouter(cfg.ProjectDir, source, orch, p.catalog.Rules, routerOpts...)
	if err != nil {
		return err
	}

	if !dashboard {
		if settings.Enabled {
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("live reload on"), server.BaseURL())
		}
		fmt.Fprintf(out, "watching %s (Ctrl-C to stop)\n", cfg.Src())
		return router.Run(cmd.Context())
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	app := tui.NewApp(feed, p.catalog.IDs(),
		tui.WithLogbook(p.runs),
		tui.WithSessions(hub.Sessions),
		tui.WithAddress(serverAddress(settings.Enabled, server)),
		tui.WithQuit(cancel),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return router.Run(gctx)
	})
	g.Go(func() error {
		// Runs still in flight must not block on a dashboard that is gone.
		defer feed.Close()
		defer cancel()
		return tui.Run(gctx, app)
	})
	return g.Wait()
}

func serverAddress(enabled bool, server *livereload.Server) string {
	if !enabled {
		return ""
	}
	return server.BaseURL()
}
