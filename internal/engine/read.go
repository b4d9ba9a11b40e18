package engine

import (
	"context"

	"github.com/tahseelapp/tahseel/internal/backend"
	"github.com/tahseelapp/tahseel/internal/collection"
	"github.com/tahseelapp/tahseel/internal/queue"
	"go.uber.org/zap"
)

// GetAll returns every record of a collection matching the filters. The
// answer comes from local data merged with pending queue operations and
// returns immediately; the only time the call waits on the network is the
// cold-start case where neither a cache snapshot nor local data exists.
// When reachable, a debounced background refresh is scheduled independently
// of the returned data.
func (e *Engine) GetAll(ctx context.Context, table string, filters collection.Filters) (*ReadResult, error) {
	key := collection.CacheKey(table, filters)
	snap := e.db.GetSnapshot(key)
	raw := e.db.GetCollection(table)

	// Cold start: nothing local to serve, so this one read blocks on the
	// network if it is available.
	if snap == nil && len(raw) == 0 && e.monitor.Reachable(ctx) {
		rows, err := e.fetchAndPersist(ctx, table, filters)
		if err == nil {
			return &ReadResult{Records: collection.Dedupe(rows), FromRemote: true}, nil
		}
		// Reads absorb remote failures and fall back to local data.
		e.logger.Warn("blocking fetch failed, serving local data",
			zap.String("table", table), zap.Error(err))
	}

	var base []collection.Record
	fromCache := false
	if snap != nil {
		base = snap.Data
		fromCache = true
	} else {
		base = raw
	}

	merged := overlay(base, e.pendingOps(table))
	merged = filters.Apply(merged)
	merged = collection.Dedupe(merged)

	if e.monitor.Reachable(ctx) {
		e.cache.RefreshInBackground(key, func(ctx context.Context) error {
			_, err := e.fetchAndPersist(ctx, table, filters)
			return err
		})
	}

	res := &ReadResult{Records: merged, FromCache: fromCache, FromLocalStore: !fromCache}
	if res.Records == nil {
		res.Records = []collection.Record{}
	}
	return res, nil
}

// GetByID returns a single record. When reachable it prefers the server's
// copy, falling back to local data on any remote error; queued mutations
// for the id are applied on top either way. A nil Record with a nil error
// means the id does not exist.
func (e *Engine) GetByID(ctx context.Context, table, id string) (*RecordResult, error) {
	var (
		rec        collection.Record
		fromRemote bool
	)

	if e.monitor.Reachable(ctx) {
		rows, err := e.backend.Select(ctx, table, collection.Filters{collection.FieldID: id})
		if err == nil {
			if len(rows) > 0 {
				rec = rows[0]
			}
			fromRemote = true
		} else {
			// Any remote error, including schema/permission, falls back to
			// local data for reads.
			e.logger.Warn("remote getById failed, falling back to local",
				zap.String("table", table), zap.String("id", id), zap.Error(err))
		}
	}

	if !fromRemote {
		for _, r := range e.db.GetCollection(table) {
			if r.ID() == id {
				rec = r
				break
			}
		}
	}

	// Queued mutations for this id win over whatever was stored.
	for _, op := range e.pendingOps(table) {
		if op.Data.ID() != id {
			continue
		}
		switch op.Operation {
		case queue.OpInsert:
			rec = op.Data
		case queue.OpUpdate:
			if rec == nil {
				rec = op.Data
			} else {
				rec = collection.Merge(rec, op.Data)
			}
		case queue.OpDelete:
			rec = nil
		}
	}

	if rec == nil {
		return &RecordResult{FromRemote: fromRemote}, nil
	}
	return &RecordResult{Record: rec, FromRemote: fromRemote, FromLocalStore: !fromRemote}, nil
}

// requireSession gates writes on an authenticated backend session.
func (e *Engine) requireSession(ctx context.Context) error {
	sess, err := e.backend.CurrentSession(ctx)
	if err != nil {
		if backend.KindOf(err) == backend.KindAuth {
			return ErrAuthRequired
		}
		return err
	}
	if sess == nil {
		return ErrAuthRequired
	}
	return nil
}
