// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. Build is the central point for service
// initialization and fails fast when any critical dependency cannot start.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/api"
	"ctiharvest/internal/clock/system"
	"ctiharvest/internal/config"
	"ctiharvest/internal/dedup"
	"ctiharvest/internal/feed"
	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
	"ctiharvest/internal/logging"
	"ctiharvest/internal/manager"
	"ctiharvest/internal/normalize"
	"ctiharvest/internal/pipeline"
	"ctiharvest/internal/scheduler"
	"ctiharvest/internal/store/fs"
	"ctiharvest/internal/store/memory"
	"ctiharvest/internal/store/postgres"
)

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	feeds     []intel.Feed
	manager   *manager.Manager
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	server    *api.Server

	closers []func()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Feeds returns every constructed feed, enabled or not.
func (a *App) Feeds() []intel.Feed { return a.feeds }

// Manager returns the feed manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Scheduler returns the task scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Server returns the HTTP status server.
func (a *App) Server() *api.Server { return a.server }

// RunAll executes one pipeline pass over every feed.
func (a *App) RunAll(ctx context.Context) intel.RunSummary {
	return a.pipeline.RunAll(ctx, a.feeds)
}

// Build wires every service from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	logger.Info("initializing services")

	a := &App{cfg: cfg, logger: logger}
	clk := system.Clock{}

	client, err := fetchclient.New(fetchclient.Config{
		Timeout:          cfg.HTTPTimeout(),
		MaxRetries:       cfg.HTTP.MaxRetries,
		BackoffBase:      time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		RateLimitDelay:   time.Duration(cfg.HTTP.RateLimitDelaySec) * time.Second,
		RateLimitJitter:  time.Duration(cfg.HTTP.RateLimitJitterSec) * time.Second,
		MaxResponseBytes: int64(cfg.HTTP.MaxResponseMB) << 20,
		SOCKSAddr:        cfg.Proxy.SOCKSAddr,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetch client: %w", err)
	}

	registry, indicators, victims, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	evidence, err := fs.NewEvidenceStore(fs.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("build evidence store: %w", err)
	}
	runState, err := fs.NewRunStateStore(fs.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("build run state store: %w", err)
	}

	cache, err := a.buildDedupCache(ctx)
	if err != nil {
		return nil, err
	}
	dd := dedup.New(ctx, cache, logger)

	a.manager = manager.New(registry, evidence, runState, clk, logger)
	a.pipeline = pipeline.New(
		a.manager, normalize.New(logger), dd,
		indicators, victims, clk, logger, cfg.Scheduler.Concurrency,
	)

	if err := a.buildFeeds(ctx, client, clk); err != nil {
		return nil, err
	}

	a.scheduler = scheduler.New(
		time.Duration(cfg.Scheduler.PollSeconds)*time.Second, clk, logger)
	for _, f := range a.feeds {
		f := f
		interval := a.feedInterval(f.Name())
		a.scheduler.Add(f.Name(), interval, func(ctx context.Context) {
			a.pipeline.ProcessFeed(ctx, f)
		})
	}

	a.server = api.NewServer(registry, a.scheduler, a.RunAll, logger)

	logger.Info("services initialized")
	return a, nil
}

func (a *App) buildStores(ctx context.Context) (intel.FeedRegistry, intel.IndicatorStore, intel.VictimStore, error) {
	switch a.cfg.DB.Backend {
	case "postgres":
		a.logger.Info("using postgres persistence")
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifeMins) * time.Minute,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build postgres store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, pg, postgres.VictimStoreAdapter{Store: pg}, nil
	default:
		a.logger.Info("using in-memory persistence")
		return memory.NewRegistry(), memory.NewIndicatorStore(), memory.NewVictimStore(), nil
	}
}

func (a *App) buildDedupCache(ctx context.Context) (dedup.CacheStore, error) {
	switch a.cfg.Dedup.Backend {
	case "redis":
		a.logger.Info("using redis dedup cache", zap.String("addr", a.cfg.Dedup.RedisAddr))
		store, err := dedup.NewRedisStore(ctx, a.cfg.Dedup.RedisAddr, a.cfg.Dedup.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("build redis dedup cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("error closing redis dedup cache", zap.Error(err))
			}
		})
		return store, nil
	default:
		dir := filepath.Join(a.cfg.Storage.DataDir, "cache")
		store, err := dedup.NewFileStore(dir)
		if err != nil {
			return nil, fmt.Errorf("build file dedup cache: %w", err)
		}
		return store, nil
	}
}

// buildFeeds constructs and registers every supported feed. Disabled feeds
// are still registered so their identity and history survive in the
// registry; the pipeline skips them at run time.
func (a *App) buildFeeds(ctx context.Context, client *fetchclient.Client, clk intel.Clock) error {
	fc := a.cfg.Feeds

	kev := feed.NewKEVFeed(client, clk, logging.ForFeed(a.logger, "cisa_kev"), "")
	if err := a.registerFeed(ctx, kev, fc.KEV.Enabled, nil); err != nil {
		return err
	}

	otx := feed.NewOTXFeed(client, clk, logging.ForFeed(a.logger, "alienvault_otx"), feed.OTXConfig{
		APIKey:             fc.OTX.APIKey,
		IncrementalEnabled: fc.OTX.IncrementalEnabled,
		Limit:              fc.OTX.Limit,
	})
	if err := a.registerFeed(ctx, otx, fc.OTX.Enabled, map[string]any{
		"limit": fc.OTX.Limit,
	}); err != nil {
		return err
	}

	malpedia := feed.NewMalpediaFeed(client, clk, logging.ForFeed(a.logger, "malpedia"), "")
	if err := a.registerFeed(ctx, malpedia, fc.Malpedia.Enabled, nil); err != nil {
		return err
	}

	rwlive := feed.NewRansomwareLiveFeed(client, clk, logging.ForFeed(a.logger, "ransomware_live"), "")
	if err := a.registerFeed(ctx, rwlive, fc.RansomwareLive.Enabled, nil); err != nil {
		return err
	}

	darkweb := feed.NewLeakSiteFeed(client, clk, logging.ForFeed(a.logger, "darkweb_monitor"), fc.DarkwebMonitor.Sources)
	if err := a.registerFeed(ctx, darkweb, fc.DarkwebMonitor.Enabled, map[string]any{
		"sources": len(fc.DarkwebMonitor.Sources),
	}); err != nil {
		return err
	}

	return nil
}

func (a *App) registerFeed(ctx context.Context, f intel.Feed, enabled bool, cfg map[string]any) error {
	if err := a.manager.Register(ctx, f, enabled, cfg); err != nil {
		return err
	}
	a.feeds = append(a.feeds, f)
	return nil
}

func (a *App) feedInterval(name string) time.Duration {
	fc := a.cfg.Feeds
	switch name {
	case "cisa_kev":
		return fc.KEV.Interval()
	case "alienvault_otx":
		return fc.OTX.Interval()
	case "malpedia":
		return fc.Malpedia.Interval()
	case "ransomware_live":
		return fc.RansomwareLive.Interval()
	case "darkweb_monitor":
		return fc.DarkwebMonitor.Interval()
	default:
		return time.Hour
	}
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	a.logger.Info("shutting down services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
