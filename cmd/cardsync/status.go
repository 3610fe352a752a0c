package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local and server revision state",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), io.Discard)
		if err != nil {
			return err
		}
		defer app.close()

		s := app.tracker.State()

		fmt.Printf("Local revision:  %d\n", s.LocalRevision)
		fmt.Printf("Server revision: %d\n", s.ServerRevision)
		fmt.Printf("Unsaved changes: %v\n", s.HasUnsavedChanges)

		backend := "remote"
		if app.store.UsingFallback() {
			backend = "local fallback"
		}
		fmt.Printf("Backend:         %s\n", backend)

		if !s.LastSaved.IsZero() {
			fmt.Printf("Last saved:      %s\n", s.LastSaved.Format(time.RFC3339))
		}
		if !s.LastSyncAttempt.IsZero() {
			fmt.Printf("Last sync:       %s\n", s.LastSyncAttempt.Format(time.RFC3339))
		}
		if s.LastSyncError != "" {
			fmt.Printf("Last sync error: %s\n", s.LastSyncError)
		}

		return nil
	},
}
