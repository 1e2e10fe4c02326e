// cmd/assetflow/main.go
//
// Entry point for the assetflow CLI. Every subcommand opens the project in
// the working directory (or --dir), builds the task graph from its
// configuration and hands it to the orchestrator.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Ctrl-C cancels in-flight tool processes and stops the watcher.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
