package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "run",
	Short:   "Run the local API, websocket feed and sync scheduler",
	Long: `Serve the local control API on server.addr until interrupted.

While running, connectivity is tracked (manual or probed), a sync runs
shortly after the connection returns and periodically while online, and
every engine event is broadcast on /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		return multierr.Append(serve(ctx, app, cfg.Server.Addr), app.Close())
	},
}

// serve runs the HTTP server until ctx is done or the listener fails.
func serve(ctx context.Context, app *App, addr string) error {
	if app.Config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	app.Start(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("Local API listening", map[string]interface{}{
			"addr":     addr,
			"data_dir": app.Config.DataDir,
			"network":  app.Config.Network.Mode,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down local API", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
