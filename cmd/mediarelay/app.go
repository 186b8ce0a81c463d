package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/mediarelay/internal/config"
	"github.com/njoerd114/mediarelay/internal/content"
	"github.com/njoerd114/mediarelay/internal/contenttype"
	"github.com/njoerd114/mediarelay/internal/importer"
	"github.com/njoerd114/mediarelay/internal/model"
	"github.com/njoerd114/mediarelay/internal/provider/instagram"
	"github.com/njoerd114/mediarelay/internal/provider/youtube"
	"github.com/njoerd114/mediarelay/internal/state"
	syncp "github.com/njoerd114/mediarelay/internal/sync"
	"github.com/njoerd114/mediarelay/internal/telemetry"
)

// app is the composition root shared by the daemon, sync-once and backfill
// commands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *state.Store
	registrar *syncp.Registrar
	engine    *syncp.Engine
	sources   []syncp.SourceConfig

	closers []func(context.Context) error
}

// newApp loads the configuration and builds every component. The caller must
// call Close.
func newApp(ctx context.Context, cfgPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"poll_interval", cfg.PollInterval,
		"sources", len(cfg.Sources),
		"commit_policy", cfg.SyncPolicy(),
	)

	a := &app{cfg: cfg, log: logger}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, shutdownTel)
		}
	}

	// --- State DB ------------------------------------------------------------

	store, err := openStore(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	// --- Content store & importers -------------------------------------------

	contentStore, err := content.New(cfg.ContentDir)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	registry := contenttype.NewRegistry()
	logger.Info("content store ready", "dir", cfg.ContentDir)

	// --- Remote clients & runners --------------------------------------------

	locks := syncp.NewSourceLocks()
	clients := make(map[model.Provider]syncp.RemoteClient)
	var runners []*syncp.Runner

	if cfg.Instagram != nil {
		ig := instagram.New(cfg.Instagram.APIBaseURL, cfg.Instagram.AccessToken, logger)
		imp := importer.New(contentStore, registry, cfg.Instagram.TitleMaxLen, logger)
		clients[model.ProviderPhoto] = ig
		runners = append(runners, syncp.NewRunner(model.ProviderPhoto, ig, store, imp, logger,
			syncp.WithCommitPolicy(cfg.SyncPolicy()),
			syncp.WithPageSize(cfg.Instagram.PageSize),
			syncp.WithLocks(locks),
		))
	}
	if cfg.YouTube != nil {
		yt, err := youtube.New(ctx, youtube.Config{APIKey: cfg.YouTube.APIKey, Endpoint: cfg.YouTube.Endpoint}, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("initialising YouTube client: %w", err)
		}
		imp := importer.New(contentStore, registry, importer.DefaultTitleMaxLen, logger)
		clients[model.ProviderVideo] = yt
		runners = append(runners, syncp.NewRunner(model.ProviderVideo, yt, store, imp, logger,
			syncp.WithCommitPolicy(cfg.SyncPolicy()),
			syncp.WithPageSize(cfg.YouTube.PageSize),
			syncp.WithLocks(locks),
		))
	}

	a.registrar = syncp.NewRegistrar(clients, store, locks, logger)
	a.engine = syncp.NewEngine(runners, store, cfg.PollInterval, cfg.MaxConcurrentSources, logger)

	for _, s := range cfg.Sources {
		a.sources = append(a.sources, sourceConfig(s))
	}
	return a, nil
}

// registerSources creates ledgers for newly configured sources. Failures are
// logged and left for the next start.
func (a *app) registerSources(ctx context.Context) {
	created, err := a.registrar.EnsureAll(ctx, a.sources)
	if err != nil {
		a.log.Warn("some sources could not be registered", "error", err)
	}
	if created > 0 {
		a.log.Info("new sources registered; run 'mediarelay backfill' to import their existing items",
			"count", created)
	}
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.Config) (*state.Store, error) {
	dbPath := cfg.StateDB
	if dbPath == "" {
		p, err := state.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
		dbPath = p
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	return store, nil
}

// sourceConfig converts a validated config entry; provider and post target
// are already normalised by config.Load.
func sourceConfig(s config.SourceConfig) syncp.SourceConfig {
	return syncp.SourceConfig{
		Provider:        model.Provider(s.Provider),
		SourceID:        s.ID,
		PostTarget:      model.PostTargetKind(s.PostTarget),
		ContentInstance: s.ContentInstance,
		CategoryID:      s.CategoryID,
	}
}
