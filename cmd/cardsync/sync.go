package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local changes to the remote backend now",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer app.close()

		pushed, err := app.engine.PushToRemote(cmd.Context())
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		if !pushed {
			s := app.tracker.State()
			if s.LastSyncError != "" {
				fmt.Printf("Not pushed: %s\n", s.LastSyncError)
			} else {
				fmt.Println("Not pushed")
			}
			return nil
		}

		fmt.Printf("Pushed revision %d\n", app.tracker.State().LocalRevision)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local deck with the backend's copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer app.close()

		payload, ok, err := app.engine.PullFromRemote(cmd.Context())
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		if !ok {
			fmt.Println("No usable deck on the backend, local data unchanged")
			return nil
		}

		fmt.Printf("Pulled revision %d (%d bytes)\n", app.tracker.State().ServerRevision, len(payload))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a legacy-layout backend to the current layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer app.close()

		result, err := app.engine.MigrateLegacyLayout(cmd.Context())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if !result.Migrated {
			fmt.Println("Nothing to migrate")
			return nil
		}

		fmt.Printf("Migrated %d bytes into %d chunks, removed %d legacy keys\n",
			result.PayloadBytes, result.Chunks, result.LegacyKeysRemoved)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear local state and revision counters",
	Long: `Clears the local and server revision counters and drops the locally
cached deck payload. Remote data is not touched; the next run pulls it
fresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.engine.Reset(); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}

		fmt.Println("Revision counters cleared")
		return nil
	},
}
