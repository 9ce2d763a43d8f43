package main

import (
	"context"
	"database/sql"
	stderrors "errors"

	"go.uber.org/multierr"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/auth"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/config"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/conflict"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/merge"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/scheduler"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/transport"
)

// App holds the wired sync stack for one data directory.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Repo        *db.Repository
	Queue       *queue.Queue
	Engine      *syncpkg.Engine
	Resolver    *conflict.Resolver
	Network     network.Provider
	Credentials *auth.CredentialProvider
	Scheduler   *scheduler.Scheduler
	Hub         *WSHub

	prober      *network.Prober
	unsubscribe func()
}

// NewApp opens the store and wires every component. Nothing runs in the
// background until Start is called.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open database", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to migrate database", err)
	}

	app := &App{Config: cfg, DB: database, Repo: db.NewRepository(database.DB)}
	if err := app.wire(ctx); err != nil {
		return nil, multierr.Append(err, database.Close())
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	registry := merge.NewRegistry()
	for _, name := range cfg.EntityTypes() {
		var mapper merge.Mapper
		if fields := cfg.Entities[name].Fields; len(fields) > 0 {
			mapper = merge.FieldMapping{Fields: fields}
		}
		registry.Register(name, mapper)
	}

	a.Queue = queue.New(a.Repo, registry)
	a.Credentials = auth.NewCredentialProvider(a.Repo)

	var provider auth.Provider = a.Credentials
	if cfg.Remote.Token != "" {
		provider = auth.StaticToken(cfg.Remote.Token)
	}

	baseURL, err := a.baseURL(ctx)
	if err != nil {
		return err
	}

	switch cfg.Network.Mode {
	case config.NetworkProbe:
		a.prober = network.NewProber(cfg.Network.ProbeURL, cfg.Network.Interval, cfg.Network.Timeout)
		a.Network = a.prober
	default:
		// A manual provider starts online; the host flips it via the API.
		a.Network = network.NewManual(true)
	}

	merger := merge.NewEngine(registry)
	engine, err := syncpkg.NewEngine(syncpkg.Options{
		Repo:    a.Repo,
		Queue:   a.Queue,
		Merger:  merger,
		Client:  transport.NewHTTPClient(baseURL, cfg.Remote.Timeout),
		Auth:    provider,
		Network: a.Network,
	})
	if err != nil {
		return err
	}
	a.Engine = engine

	if _, err := a.Queue.Recover(ctx); err != nil {
		engine.Close()
		return err
	}
	if err := engine.Restore(ctx); err != nil {
		engine.Close()
		return err
	}

	a.Resolver = conflict.NewResolver(a.Repo, a.Queue, merger)
	a.Scheduler = scheduler.NewScheduler(engine, a.Network, a.Queue, &scheduler.SchedulerConfig{
		SyncInterval:      cfg.Scheduler.Interval,
		ReconnectDebounce: cfg.Scheduler.ReconnectDebounce,
	})
	a.Hub = NewWSHub()
	a.unsubscribe = engine.Subscribe(a.Hub.BroadcastEvent)
	return nil
}

// baseURL prefers the configured endpoint and falls back to the one saved
// by login.
func (a *App) baseURL(ctx context.Context) (string, error) {
	if a.Config.Remote.BaseURL != "" {
		return a.Config.Remote.BaseURL, nil
	}
	cred, err := a.Repo.GetSyncCredential(ctx)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read credential", err)
	}
	return cred.Endpoint, nil
}

// Start begins connectivity probing and, if enabled, scheduled syncs.
func (a *App) Start(ctx context.Context) {
	if a.prober != nil {
		a.prober.Start(ctx)
	}
	if a.Config.Scheduler.Enabled {
		a.Scheduler.Start(ctx)
	}
}

// RefreshNetwork probes once when connectivity is probed. One-shot
// commands call it because the background prober never runs for them.
func (a *App) RefreshNetwork(ctx context.Context) bool {
	if a.prober != nil {
		return a.prober.Probe(ctx)
	}
	return a.Network.IsOnline()
}

// Close stops background work and releases the database. It collects
// every failure rather than stopping at the first.
func (a *App) Close() error {
	a.Scheduler.Stop()
	if a.prober != nil {
		a.prober.Stop()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.Engine.Close()
	a.Hub.Close()

	var err error
	if cerr := a.DB.Close(); cerr != nil {
		err = multierr.Append(err, apperrors.Wrap(apperrors.ErrDatabase, "failed to close database", cerr))
	}
	return err
}
