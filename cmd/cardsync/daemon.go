package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	daemonWatchPath string
	daemonLogFile   string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine until interrupted",
	Long: `Loads the deck, starts the background sync loop, and keeps mirroring
local changes to the remote backend until SIGINT or SIGTERM.

With --watch, edits to the given deck file are saved and pushed
automatically.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonWatchPath, "watch", "", "deck file to watch for edits")
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "rotate logs to this file instead of stderr only")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logWriter := io.Writer(os.Stderr)
	if daemonLogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   daemonLogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		defer rotator.Close()
		logWriter = io.MultiWriter(os.Stderr, rotator)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx, logWriter)
	if err != nil {
		return err
	}
	defer app.close()

	payload, err := app.engine.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	mode := "remote"
	if app.store.UsingFallback() {
		mode = "local fallback"
	}
	fmt.Printf("cardsync daemon started (deck: %d bytes, backend: %s)\n", len(payload), mode)

	if daemonWatchPath != "" {
		go func() {
			if err := app.engine.WatchDeckFile(ctx, daemonWatchPath, 250*time.Millisecond); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Error: deck watcher stopped: %v\n", err)
			}
		}()
		fmt.Printf("Watching %s for changes\n", daemonWatchPath)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	app.engine.StopPeriodicSync()

	// One last chance for unsaved changes to reach the backend.
	if app.tracker.NeedsCloudWrite() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		pushed, err := app.engine.PushToRemote(flushCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: final push failed, changes remain local: %v\n", err)
		} else if !pushed && app.tracker.NeedsCloudWrite() {
			fmt.Fprintln(os.Stderr, "Warning: changes remain local, they will sync on the next run")
		}
	}

	return nil
}
