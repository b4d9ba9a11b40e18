// Package engine is the collection access facade: the single CRUD surface
// application code talks to. Every call answers immediately from the local
// store merged with pending queue operations, opportunistically consults the
// remote backend when reachable, and keeps caches consistent through the
// debounced invalidation controller.
package engine

import (
	"context"
	"sync"

	"github.com/tahseelapp/tahseel/internal/backend"
	"github.com/tahseelapp/tahseel/internal/bus"
	"github.com/tahseelapp/tahseel/internal/cache"
	"github.com/tahseelapp/tahseel/internal/collection"
	"github.com/tahseelapp/tahseel/internal/conflict"
	"github.com/tahseelapp/tahseel/internal/conn"
	"github.com/tahseelapp/tahseel/internal/queue"
	"github.com/tahseelapp/tahseel/internal/store"
	"go.uber.org/zap"
)

// Config collects the engine's collaborators.
type Config struct {
	DB       *store.DB
	Queue    *queue.Queue
	Backend  backend.Client
	Monitor  *conn.Monitor
	Resolver *conflict.Resolver
	Cache    *cache.Controller
	Bus      *bus.Bus
	Logger   *zap.Logger
	// Collections is the set of tables SyncAllData resynchronizes.
	Collections []string
}

// Engine composes the local store, sync queue, connection monitor, conflict
// resolver and cache controller behind one always-available CRUD surface.
type Engine struct {
	db       *store.DB
	queue    *queue.Queue
	backend  backend.Client
	monitor  *conn.Monitor
	resolver *conflict.Resolver
	cache    *cache.Controller
	bus      *bus.Bus
	logger   *zap.Logger

	collections []string
	now         func() int64

	// drainMu serializes queue replay; per-record mutual exclusion during a
	// drain comes from processing the queue strictly sequentially.
	drainMu sync.Mutex
}

// New creates an engine. A nil logger is replaced with a no-op logger.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:          cfg.DB,
		queue:       cfg.Queue,
		backend:     cfg.Backend,
		monitor:     cfg.Monitor,
		resolver:    cfg.Resolver,
		cache:       cfg.Cache,
		bus:         cfg.Bus,
		logger:      logger,
		collections: cfg.Collections,
		now:         collection.NowMillis,
	}
}

// Reachable reports whether the remote backend is currently reachable.
func (e *Engine) Reachable(ctx context.Context) bool {
	return e.monitor.Reachable(ctx)
}

// ConnectionState returns the monitor's current state without probing.
func (e *Engine) ConnectionState() conn.State {
	return e.monitor.State()
}

// PendingOps returns the number of mutations waiting in the sync queue.
func (e *Engine) PendingOps() int {
	n, err := e.queue.Len()
	if err != nil {
		e.logger.Warn("queue length unavailable", zap.Error(err))
		return 0
	}
	return n
}

// InvalidateCache drops the base snapshot and every filtered variant for a
// table (debounced per table).
func (e *Engine) InvalidateCache(table string) {
	e.cache.Invalidate(table)
}

// InvalidateAllCaches drops every cache snapshot for every table.
func (e *Engine) InvalidateAllCaches() {
	e.cache.InvalidateAll()
}

// FlushBackground blocks until scheduled background refreshes complete.
// Intended for tests and orderly shutdown.
func (e *Engine) FlushBackground() {
	e.cache.Flush()
}

// fetchAndPersist pulls the full collection from the remote backend,
// overwrites the stored unfiltered collection (the backend is the source of
// truth on a successful fetch), persists the filtered variant when filters
// are present, and returns the rows matching the filters.
func (e *Engine) fetchAndPersist(ctx context.Context, table string, filters collection.Filters) ([]collection.Record, error) {
	rows, err := e.backend.Select(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	now := e.now()
	full := &collection.Snapshot{Data: rows, Timestamp: now, LastSync: now}
	if err := e.db.SetSnapshot(table, table, full); err != nil {
		e.logger.Warn("persist collection failed", zap.String("table", table), zap.Error(err))
	}
	result := rows
	if len(filters) > 0 {
		result = filters.Apply(rows)
		key := collection.CacheKey(table, filters)
		snap := &collection.Snapshot{Data: result, Timestamp: now, LastSync: now}
		if err := e.db.SetSnapshot(table, key, snap); err != nil {
			e.logger.Warn("persist filtered cache failed", zap.String("cache_key", key), zap.Error(err))
		}
	}
	if e.bus != nil {
		e.bus.Emit("collection.updated", table)
	}
	return result, nil
}

// pendingOps returns the queued mutations for a table in replay order.
// Queue read failures degrade to "no pending ops".
func (e *Engine) pendingOps(table string) []queue.Op {
	ops, err := e.queue.PeekTable(table)
	if err != nil {
		e.logger.Warn("queue read failed", zap.String("table", table), zap.Error(err))
		return nil
	}
	return ops
}

// overlay applies queued mutations on top of stored records, in timestamp
// order. Inserts append, updates merge onto the matching record (or append
// when it only exists in the queue), deletes remove.
func overlay(records []collection.Record, ops []queue.Op) []collection.Record {
	out := make([]collection.Record, len(records))
	copy(out, records)

	for _, op := range ops {
		id := op.Data.ID()
		switch op.Operation {
		case queue.OpInsert:
			out = append(out, op.Data)
		case queue.OpUpdate:
			found := false
			for i, r := range out {
				if r.ID() == id {
					out[i] = collection.Merge(r, op.Data)
					found = true
				}
			}
			if !found {
				out = append(out, op.Data)
			}
		case queue.OpDelete:
			kept := out[:0]
			for _, r := range out {
				if r.ID() != id {
					kept = append(kept, r)
				}
			}
			out = kept
		}
	}
	return out
}

// applyLocal writes a record into the raw collection and the base snapshot
// in place, so reads observe the mutation synchronously. Store failures are
// absorbed: the queue remains the durable source of truth for the mutation.
func (e *Engine) applyLocal(table string, rec collection.Record) {
	records := e.db.GetCollection(table)
	replaced := false
	for i, r := range records {
		if r.ID() == rec.ID() {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	e.persistLocal(table, records)
}

// removeLocal deletes a record from the raw collection and base snapshot.
func (e *Engine) removeLocal(table, id string) {
	records := e.db.GetCollection(table)
	kept := records[:0]
	for _, r := range records {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	e.persistLocal(table, kept)
}

func (e *Engine) persistLocal(table string, records []collection.Record) {
	snap := e.db.GetSnapshot(table)
	if snap == nil {
		snap = &collection.Snapshot{}
	}
	snap.Data = records
	snap.Timestamp = e.now()
	if err := e.db.SetSnapshot(table, table, snap); err != nil {
		e.logger.Warn("local write failed", zap.String("table", table), zap.Error(err))
	}
	if e.bus != nil {
		e.bus.Emit("collection.updated", table)
	}
}
