// Package cache owns invalidation and background refresh of collection
// snapshots. Both are debounced: invalidation per table, refresh per exact
// cache key, so bursts of related mutations or several views requesting the
// same collection near-simultaneously collapse into one piece of work.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tahseelapp/tahseel/internal/bus"
	"github.com/tahseelapp/tahseel/internal/store"
	"go.uber.org/zap"
)

// Options tunes the controller. Zero fields take the documented defaults.
type Options struct {
	// InvalidateWindow suppresses repeat invalidations per table. Default 500ms.
	InvalidateWindow time.Duration
	// RefreshWindow collapses redundant refreshes per cache key. Default 2500ms.
	RefreshWindow time.Duration
	// Workers bounds concurrent background refreshes. Default 4.
	Workers int
}

// Controller runs debounced cache invalidation and fire-and-forget
// background refreshes on a bounded executor. Refresh failures are logged,
// never surfaced.
type Controller struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	mu             sync.Mutex
	lastInvalidate map[string]time.Time // per table
	lastRefresh    map[string]time.Time // per cache key

	tasks   chan func()
	pending sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
}

// New creates a controller and starts its worker pool.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InvalidateWindow <= 0 {
		opts.InvalidateWindow = 500 * time.Millisecond
	}
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = 2500 * time.Millisecond
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	c := &Controller{
		db:             db,
		bus:            b,
		logger:         logger,
		opts:           opts,
		now:            time.Now,
		lastInvalidate: make(map[string]time.Time),
		lastRefresh:    make(map[string]time.Time),
		tasks:          make(chan func(), 64),
		stop:           make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		go c.worker()
	}
	return c
}

func (c *Controller) worker() {
	for {
		select {
		case task := <-c.tasks:
			task()
			c.pending.Done()
		case <-c.stop:
			return
		}
	}
}

// Invalidate drops the base snapshot and every filtered variant for a table.
// Repeat calls for the same table within the debounce window are skipped.
// Store failures are absorbed and logged.
func (c *Controller) Invalidate(table string) {
	c.mu.Lock()
	if last, ok := c.lastInvalidate[table]; ok && c.now().Sub(last) < c.opts.InvalidateWindow {
		c.mu.Unlock()
		return
	}
	c.lastInvalidate[table] = c.now()
	c.mu.Unlock()

	n, err := c.db.DropCacheEntries(table)
	if err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("table", table), zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("cache invalidated", zap.String("table", table), zap.Int("entries", n))
	}
	if c.bus != nil {
		c.bus.Emit("collection.invalidated", table)
	}
}

// InvalidateVariants drops only the filtered-cache variants for a table,
// leaving the base snapshot (which mutations rewrite in place) intact.
// Shares the per-table debounce with Invalidate.
func (c *Controller) InvalidateVariants(table string) {
	c.mu.Lock()
	if last, ok := c.lastInvalidate[table]; ok && c.now().Sub(last) < c.opts.InvalidateWindow {
		c.mu.Unlock()
		return
	}
	c.lastInvalidate[table] = c.now()
	c.mu.Unlock()

	if _, err := c.db.DropCacheVariants(table); err != nil {
		c.logger.Warn("variant invalidation failed", zap.String("table", table), zap.Error(err))
		return
	}
	if c.bus != nil {
		c.bus.Emit("collection.invalidated", table)
	}
}

// InvalidateAll drops every cache snapshot for every table, bypassing the
// per-table debounce.
func (c *Controller) InvalidateAll() {
	n, err := c.db.DropAllCache()
	if err != nil {
		c.logger.Warn("full cache invalidation failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.lastInvalidate = make(map[string]time.Time)
	c.mu.Unlock()
	c.logger.Info("all caches invalidated", zap.Int("entries", n))
}

// RefreshInBackground schedules fetch on the executor unless the same cache
// key was refreshed within the debounce window. fetch is the engine's
// remote fetch-and-persist; its error is logged, never returned.
func (c *Controller) RefreshInBackground(cacheKey string, fetch func(ctx context.Context) error) {
	c.mu.Lock()
	if last, ok := c.lastRefresh[cacheKey]; ok && c.now().Sub(last) < c.opts.RefreshWindow {
		c.mu.Unlock()
		return
	}
	c.lastRefresh[cacheKey] = c.now()
	c.mu.Unlock()

	c.pending.Add(1)
	task := func() {
		if err := fetch(context.Background()); err != nil {
			c.logger.Warn("background refresh failed",
				zap.String("cache_key", cacheKey), zap.Error(err))
			return
		}
		if c.bus != nil {
			c.bus.Emit("collection.refreshed", cacheKey)
		}
	}
	select {
	case c.tasks <- task:
	default:
		// Executor saturated; this refresh is redundant by definition.
		c.pending.Done()
		c.logger.Warn("refresh executor full, dropping task", zap.String("cache_key", cacheKey))
	}
}

// Flush blocks until every scheduled background task has completed. Tests
// use it to make fire-and-forget work deterministic.
func (c *Controller) Flush() {
	c.pending.Wait()
}

// Close stops the worker pool after in-flight tasks finish.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.pending.Wait()
		close(c.stop)
	})
}
