// Command cardsync synchronizes a local flashcard deck with a size-limited
// remote key-value backend.
//
// Saves always land locally first; a background loop propagates them to the
// backend in revision-tagged, size-bounded chunks. When no backend is
// reachable the tool keeps operating on local data and retries later.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Local-first flashcard deck synchronization",
	Long: `cardsync mirrors a single user's flashcard deck between a durable local
store and a remote key-value backend.

The deck is persisted locally with zero latency; a background sync loop
pushes changes to the backend, splitting the payload into chunks that
respect the backend's per-value size limit. Monotonic revision counters
detect conflicts between local and remote state; on conflict the server's
data wins.

Configuration is read from cardsync.yaml (current directory or
~/.config/cardsync), from CARDSYNC_* environment variables, and from
flags, in increasing order of precedence.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("db", ".cardsync/local.db", "path to the local database")
	rootCmd.PersistentFlags().String("remote-url", "", "WebSocket URL of the remote backend (empty: local-only)")
	rootCmd.PersistentFlags().String("base-key", "cards", "key prefix for local and remote records")
	rootCmd.PersistentFlags().Int("max-chunk-size", 1500, "backend per-value size limit in bytes")

	for _, flag := range []string{"db", "remote-url", "base-key", "max-chunk-size"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to bind flag %s: %v\n", flag, err)
			os.Exit(1)
		}
	}
}

// initConfig loads the config file and environment overrides.
func initConfig() {
	viper.SetConfigName("cardsync")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "cardsync"))
	}

	viper.SetEnvPrefix("CARDSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

func main() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
