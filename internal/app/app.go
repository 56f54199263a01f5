// Package app builds every component from configuration and owns their
// lifecycle: the shared storage and Redis connections, the cache, the quota
// tracker, the exchange log and the background maintenance loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tripcache/config"
	"tripcache/internal/cache"
	"tripcache/internal/exchangelog"
	"tripcache/internal/metered"
	"tripcache/internal/quota"
	"tripcache/internal/storage"
)

// Options holds the process-level dependencies of an App.
type Options struct {
	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Clock defaults to the real clock
	Clock clockwork.Clock

	// Registerer receives the cache and quota metrics; nil disables metrics
	Registerer prometheus.Registerer
}

// App represents the application with all its dependencies.
type App struct {
	config *config.Config
	logger *slog.Logger
	clock  clockwork.Clock

	storage    storage.Storage
	redis      *redis.Client
	ttls       cache.TTLs
	cache      cache.Store
	quotaStore quota.Store
	tracker    *quota.Tracker
	exchanges  *exchangelog.Log
	metered    *metered.Client

	stop     chan struct{}
	loops    sync.WaitGroup
	loopOnce sync.Once

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates an App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	a := &App{
		config: cfg,
		logger: opts.Logger,
		clock:  opts.Clock,
		stop:   make(chan struct{}),
	}

	if err := a.init(ctx, opts); err != nil {
		if closeErr := a.closeResources(); closeErr != nil {
			return nil, fmt.Errorf("%w (also: close error: %v)", err, closeErr)
		}
		return nil, err
	}

	a.logStartupInfo()
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.config

	if cfg.Cache.Backend == "redis" || cfg.Quota.MemoBackend == "redis" {
		client, err := storage.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.redis = client
	}

	a.ttls = cache.ResolveTTLs(map[cache.Partition]string{
		cache.PartitionPlaces:   cfg.Cache.PlacesTTLHours,
		cache.PartitionImages:   cfg.Cache.ImagesTTLHours,
		cache.PartitionSearches: cfg.Cache.SearchesTTLHours,
		cache.PartitionDefault:  cfg.Cache.DefaultTTLHours,
	}, a.logger)

	cacheMetrics := cache.NewMetrics(opts.Registerer)
	switch cfg.Cache.Backend {
	case "redis":
		store, err := cache.NewRedisStore(cache.RedisConfig{
			Client:    a.redis,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTLs:      a.ttls,
			Clock:     a.clock,
			Logger:    a.logger,
			Metrics:   cacheMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		a.cache = store
	default:
		a.cache = cache.NewFileStore(cache.FileConfig{
			BaseDir: cfg.Cache.BaseDir,
			TTLs:    a.ttls,
			Clock:   a.clock,
			Logger:  a.logger,
			Metrics: cacheMetrics,
		})
	}

	st, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	a.storage = st

	qs, err := quota.NewStore(ctx, st, quota.WithClock(a.clock))
	if err != nil {
		return fmt.Errorf("failed to initialize quota store: %w", err)
	}
	a.quotaStore = qs

	var memo quota.UsageMemo
	if cfg.Quota.MemoBackend == "redis" {
		memo = quota.NewRedisMemo(a.redis, cfg.Redis.KeyPrefix, a.logger)
	} else {
		memo = quota.NewLocalMemo(quota.DefaultMemoTTL, a.clock)
	}

	a.tracker = quota.NewTracker(qs, quota.Config{
		DefaultDailyLimit: cfg.Quota.DefaultDailyLimit,
		Memo:              memo,
		Clock:             a.clock,
		Logger:            a.logger,
		Metrics:           quota.NewMetrics(opts.Registerer),
	})

	a.exchanges = exchangelog.New(exchangelog.Config{
		BaseDir: cfg.Cache.BaseDir,
		Clock:   a.clock,
		Logger:  a.logger,
	})

	a.metered = &metered.Client{
		Cache:     a.cache,
		Quota:     a.tracker,
		Exchanges: a.exchanges,
		Logger:    a.logger,
	}
	return nil
}

// buildStorageConfig maps the application config onto storage.Config.
func buildStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type:   cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{Path: cfg.Storage.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}.WithDefaults()
}

// Cache returns the configured cache backend.
func (a *App) Cache() cache.Store {
	return a.cache
}

// TTLs returns the resolved partition TTLs.
func (a *App) TTLs() cache.TTLs {
	return a.ttls
}

// Tracker returns the quota tracker.
func (a *App) Tracker() *quota.Tracker {
	return a.tracker
}

// Exchanges returns the LLM exchange log.
func (a *App) Exchanges() *exchangelog.Log {
	return a.exchanges
}

// Metered returns the client that runs external calls through cache and quota.
func (a *App) Metered() *metered.Client {
	return a.metered
}

// StartMaintenance starts the cache sweep and the quota cleanup loops when
// they are enabled. Calling it more than once has no further effect.
func (a *App) StartMaintenance() {
	a.loopOnce.Do(func() {
		if minutes := a.config.Cache.SweepIntervalMinutes; minutes > 0 {
			a.loops.Add(1)
			go func() {
				defer a.loops.Done()
				cache.RunSweepLoop(a.stop, a.cache, time.Duration(minutes)*time.Minute, a.clock, a.logger)
			}()
		}
		if days := a.config.Quota.RetentionDays; days > 0 {
			a.loops.Add(1)
			go func() {
				defer a.loops.Done()
				a.tracker.RunCleanupLoop(a.stop, days)
			}()
		}
	})
}

// Shutdown stops the maintenance loops, then closes the cache, the quota
// store, the storage connection and the Redis client in that order.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	close(a.stop)
	done := make(chan struct{})
	go func() {
		a.loops.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("maintenance loops: %w", ctx.Err()))
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if a.quotaStore != nil {
		if err := a.quotaStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("quota store close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	for _, err := range errs {
		a.logger.Error("close error", "error", err)
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	a.logger.Info("cache configured", "backend", cfg.Cache.Backend, "base_dir", cfg.Cache.BaseDir)
	a.ttls.LogSummary(a.logger)

	if cfg.Cache.SweepIntervalMinutes > 0 {
		a.logger.Info("expired cache sweep enabled", "interval_minutes", cfg.Cache.SweepIntervalMinutes)
	}

	a.logger.Info("storage configured", "type", a.storage.Type())

	a.logger.Info("quota tracking enabled",
		"default_daily_limit", cfg.Quota.DefaultDailyLimit,
		"memo", cfg.Quota.MemoBackend,
		"retention_days", cfg.Quota.RetentionDays,
	)
}
