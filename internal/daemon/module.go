package daemon

import (
	"context"
	"time"

	"github.com/tahseelapp/tahseel/internal/appdir"
	"github.com/tahseelapp/tahseel/internal/backend"
	"github.com/tahseelapp/tahseel/internal/bus"
	"github.com/tahseelapp/tahseel/internal/cache"
	"github.com/tahseelapp/tahseel/internal/config"
	"github.com/tahseelapp/tahseel/internal/conflict"
	"github.com/tahseelapp/tahseel/internal/conn"
	"github.com/tahseelapp/tahseel/internal/engine"
	"github.com/tahseelapp/tahseel/internal/lock"
	"github.com/tahseelapp/tahseel/internal/logging"
	"github.com/tahseelapp/tahseel/internal/queue"
	"github.com/tahseelapp/tahseel/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the sync daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBackend,
			provideMonitor,
			provideQueue,
			provideResolver,
			provideCache,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(appdir.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	if err := appdir.EnsureDir(); err != nil {
		return nil, err
	}
	logger.Info("acquiring daemon lock", zap.String("dir", appdir.BaseDir()))
	l, err := lock.Acquire(appdir.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	dbPath := appdir.StoreDBPath()
	db, err := store.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(p Params, logger *zap.Logger) *backend.RESTClient {
	cfg := p.Config.Backend
	return backend.NewRESTClient(cfg.URL, cfg.APIKey,
		time.Duration(cfg.TimeoutSecs)*time.Second, logger)
}

func provideMonitor(p Params, client *backend.RESTClient, b *bus.Bus, logger *zap.Logger) *conn.Monitor {
	cfg := p.Config.Sync
	return conn.NewMonitor(client.Ping,
		time.Duration(cfg.ProbeIntervalSecs)*time.Second,
		time.Duration(cfg.ProbeCacheSecs)*time.Second,
		b, logger)
}

func provideQueue(db *store.DB) (*queue.Queue, error) {
	return queue.New(db)
}

func provideResolver() *conflict.Resolver {
	return conflict.NewResolver()
}

func provideCache(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *cache.Controller {
	cfg := p.Config.Cache
	return cache.New(db, b, logger, cache.Options{
		InvalidateWindow: time.Duration(cfg.InvalidateDebounceMs) * time.Millisecond,
		RefreshWindow:    time.Duration(cfg.RefreshDebounceMs) * time.Millisecond,
		Workers:          cfg.RefreshWorkers,
	})
}

func provideEngine(p Params, db *store.DB, q *queue.Queue, client *backend.RESTClient,
	monitor *conn.Monitor, resolver *conflict.Resolver, ctrl *cache.Controller,
	b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(engine.Config{
		DB:          db,
		Queue:       q,
		Backend:     client,
		Monitor:     monitor,
		Resolver:    resolver,
		Cache:       ctrl,
		Bus:         b,
		Logger:      logger,
		Collections: p.Config.Sync.Collections,
	})
}

func registerLifecycle(lc fx.Lifecycle, p Params, e *engine.Engine, monitor *conn.Monitor,
	ctrl *cache.Controller, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	var fullSyncStop chan struct{}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Drain the queue whenever connectivity comes back.
			monitor.OnRestored(func() {
				logger.Info("connection restored, draining sync queue")
				if err := e.ProcessSyncQueue(context.Background()); err != nil {
					logger.Warn("sync queue drain incomplete", zap.Error(err))
				}
			})
			monitor.Start(context.Background())

			// Flush anything left over from the previous run.
			if e.Reachable(context.Background()) {
				go func() {
					if err := e.ProcessSyncQueue(context.Background()); err != nil {
						logger.Warn("startup drain incomplete", zap.Error(err))
					}
				}()
			}

			if secs := p.Config.Sync.FullSyncIntervalSecs; secs > 0 {
				fullSyncStop = make(chan struct{})
				go runFullSyncLoop(e, time.Duration(secs)*time.Second, fullSyncStop, logger)
			}

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(context.Context) error {
			if fullSyncStop != nil {
				close(fullSyncStop)
			}
			monitor.Stop()
			ctrl.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func runFullSyncLoop(e *engine.Engine, interval time.Duration, stop <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.SyncAllData(context.Background()); err != nil {
				logger.Warn("periodic full sync incomplete", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}
