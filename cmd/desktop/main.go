// Package main is the desktop sync process: a local control API with a
// websocket event feed, plus one-shot maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/config"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sync-desktop",
	Short: "Offline-first sync engine for the store database",
	Long: `sync-desktop keeps a local SQLite mirror of the store's entities and
synchronizes it with the remote server: local edits are queued and pushed,
server changes are pulled incrementally, and conflicting edits are kept
for review.

Run "serve" for the local API, or use the one-shot commands below.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") {
			loaded.DataDir = dataDir
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		logging.Configure(logging.Options{
			Level:      logging.ParseLevel(cfg.Log.Level),
			Output:     cmd.ErrOrStderr(),
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or {data_dir}/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides data_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Maintenance:"},
	)
}

// withApp opens the full stack for a one-shot command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	err = fn(ctx, app)
	if cerr := app.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if cerr := logging.Get().Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
