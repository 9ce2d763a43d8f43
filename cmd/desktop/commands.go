package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			app.RefreshNetwork(ctx)
			result, err := app.Engine.Sync(ctx)
			if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
				return perr
			}
			return err
		})
	},
}

var queueRetry bool

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Show the operation queue",
	Long: `List queued operations and their status counts.

With --retry, operations that failed are returned to pending first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			if queueRetry {
				n, err := app.Queue.RetryAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Reset %d failed operation(s) to pending\n", n)
			}

			items, err := app.Queue.List(ctx)
			if err != nil {
				return err
			}
			stats, err := app.Queue.Stats(ctx)
			if err != nil {
				return err
			}
			if items == nil {
				items = []*models.QueueItem{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"items": items, "stats": stats})
		})
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List and resolve sync conflicts",
}

var conflictsAll bool

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts (--all includes resolved ones)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			list := app.Resolver.ListUnresolved
			if conflictsAll {
				list = app.Resolver.ListAll
			}
			conflicts, err := list(ctx)
			if err != nil {
				return err
			}
			if conflicts == nil {
				conflicts = []*models.Conflict{}
			}
			return printJSON(cmd.OutOrStdout(), conflicts)
		})
	},
}

var (
	resolveStrategy string
	resolveData     string
	resolveDataFile string
)

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict",
	Long: `Resolve a conflict with one of the strategies:

  local   keep the local copy and push it again
  server  accept the server copy and drop queued local edits
  merge   store --data as the merged record and push it
  manual  same as merge, for hand-edited records

merge and manual need the record as JSON, via --data or --data-file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := []byte(resolveData)
		if resolveDataFile != "" {
			raw, err := os.ReadFile(resolveDataFile)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrValidation, "failed to read "+resolveDataFile, err)
			}
			data = raw
		}
		if len(data) > 0 && !json.Valid(data) {
			return apperrors.Validation("resolution data is not valid JSON")
		}

		return withApp(cmd, func(ctx context.Context, app *App) error {
			resolved, err := app.Resolver.Resolve(ctx, args[0], models.Resolution(resolveStrategy), data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resolved)
		})
	},
}

var (
	loginEndpoint string
	loginToken    string
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store the sync server endpoint and bearer token",
	Long: `Store the credential used for sync. The token can also be piped on
stdin with --token -.

A remote.token set in config or SYNC_REMOTE_TOKEN takes precedence over the
stored credential.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := loginEndpoint
		if endpoint == "" {
			endpoint = cfg.Remote.BaseURL
		}
		if endpoint == "" {
			return apperrors.Validation("--endpoint is required when remote.base_url is not configured")
		}

		token := loginToken
		if token == "-" {
			raw, err := readAll(cmd)
			if err != nil {
				return err
			}
			token = raw
		}

		return withApp(cmd, func(ctx context.Context, app *App) error {
			cred, err := app.Credentials.Login(ctx, endpoint, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", cred.Endpoint)
			return nil
		})
	},
}

func readAll(cmd *cobra.Command) (string, error) {
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "failed to read token from stdin", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove the stored sync credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			if err := app.Credentials.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		})
	},
}

var deviceCmd = &cobra.Command{
	Use:     "device",
	GroupID: "sync",
	Short:   "Print this installation's device id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			id, err := app.Engine.DeviceID(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "admin",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if cfg.Source != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", cfg.Source)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "admin",
	Short:   "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *db.Migrator) error {
			if err := m.Initialize(); err != nil {
				return err
			}
			return m.Up()
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *db.Migrator) error {
			if err := m.Initialize(); err != nil {
				return err
			}
			return m.Down()
		})
	},
}

// withMigrator opens only the database, so migrations run without wiring
// the engine against a half-migrated schema.
func withMigrator(cmd *cobra.Command, fn func(m *db.Migrator) error) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to open database", err)
	}
	defer database.Close()

	m, err := database.Migrator()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to load migrations", err)
	}
	if err := fn(m); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "migration failed", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d\n", version)
	return nil
}

func init() {
	queueCmd.Flags().BoolVar(&queueRetry, "retry", false, "reset failed operations to pending first")

	conflictsListCmd.Flags().BoolVar(&conflictsAll, "all", false, "include resolved conflicts")
	conflictsResolveCmd.Flags().StringVarP(&resolveStrategy, "strategy", "s", "", "local, server, merge or manual")
	conflictsResolveCmd.Flags().StringVar(&resolveData, "data", "", "resolved record as JSON (merge, manual)")
	conflictsResolveCmd.Flags().StringVar(&resolveDataFile, "data-file", "", "file holding the resolved record")
	_ = conflictsResolveCmd.MarkFlagRequired("strategy")
	conflictsResolveCmd.MarkFlagsMutuallyExclusive("data", "data-file")
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)

	loginCmd.Flags().StringVar(&loginEndpoint, "endpoint", "", "sync server base URL (default remote.base_url)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token, or - to read it from stdin")
	_ = loginCmd.MarkFlagRequired("token")

	configCmd.AddCommand(configShowCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)

	rootCmd.AddCommand(syncCmd, queueCmd, conflictsCmd, loginCmd, logoutCmd, deviceCmd, configCmd, migrateCmd)
}
