package engine

import (
	"context"
	"fmt"

	"github.com/tahseelapp/tahseel/internal/backend"
	"github.com/tahseelapp/tahseel/internal/collection"
	"github.com/tahseelapp/tahseel/internal/conflict"
	"github.com/tahseelapp/tahseel/internal/queue"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ProcessSyncQueue replays pending mutations against the remote backend in
// enqueue order. Entries are removed after successful application or a
// terminal already-satisfied error (duplicate key, not found); anything
// else stays queued for the next drain. Replay is strictly sequential,
// which is what provides per-record mutual exclusion.
func (e *Engine) ProcessSyncQueue(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	ops, err := e.queue.PeekAll()
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	applied := 0
	touched := make(map[string]bool)
	var errs error
	for _, op := range ops {
		err := e.applyOp(ctx, op)
		switch {
		case err == nil:
			_ = e.queue.RemoveByID(op.ID)
			touched[op.Table] = true
			applied++
		case backend.IsSatisfied(err):
			// Already true on the server; the entry has nothing left to do.
			e.logger.Info("queued op already satisfied, discarding",
				zap.String("op", string(op.Operation)),
				zap.String("table", op.Table),
				zap.String("id", op.Data.ID()))
			_ = e.queue.RemoveByID(op.ID)
			touched[op.Table] = true
		default:
			errs = multierr.Append(errs, fmt.Errorf("%s %s/%s: %w",
				op.Operation, op.Table, op.Data.ID(), err))
		}
	}

	for table := range touched {
		e.cache.Invalidate(table)
		e.cache.RefreshInBackground(table, func(ctx context.Context) error {
			_, err := e.fetchAndPersist(ctx, table, nil)
			return err
		})
	}

	e.logger.Info("sync queue drained",
		zap.Int("applied", applied), zap.Int("remaining", len(ops)-applied))
	if e.bus != nil {
		e.bus.Emit("queue.drained", applied)
	}
	return errs
}

// applyOp replays one queued mutation. Updates and deletes re-read the
// current server record first: an unchanged record applies directly, a
// diverged one goes through the conflict resolver.
func (e *Engine) applyOp(ctx context.Context, op queue.Op) error {
	id := op.Data.ID()

	switch op.Operation {
	case queue.OpInsert:
		// Upsert-by-id keeps replay idempotent after a crash mid-drain.
		_, err := e.backend.Upsert(ctx, op.Table, op.Data, collection.FieldID)
		return err

	case queue.OpUpdate:
		server, err := e.serverRecord(ctx, op.Table, id)
		if err != nil {
			return err
		}
		if server == nil {
			// Vanished server-side: the local record wins outright and
			// becomes an insert.
			merged := e.resolver.Resolve(op.Table, op.Data, nil)
			_, err := e.backend.Upsert(ctx, op.Table, merged, collection.FieldID)
			return err
		}

		serverVersion, serverHasVersion := server.Version()
		diverged := conflict.NeedsResolution(op.Data.UpdatedAt(), server.UpdatedAt())
		if op.Version != nil && serverHasVersion {
			// A matching version proves nobody else wrote in between, even
			// when wall clocks disagree.
			diverged = serverVersion != *op.Version
		}
		if diverged {
			merged := e.resolver.Resolve(op.Table, op.Data, server)
			if serverHasVersion {
				merged[collection.FieldVersion] = serverVersion + 1
			}
			_, err := e.backend.Update(ctx, op.Table, id, merged)
			return err
		}

		upd := op.Data.Clone()
		if serverHasVersion {
			upd[collection.FieldVersion] = serverVersion + 1
		}
		_, err = e.backend.Update(ctx, op.Table, id, upd)
		return err

	case queue.OpDelete:
		server, err := e.serverRecord(ctx, op.Table, id)
		if err != nil {
			return err
		}
		if server == nil {
			return nil // already gone
		}
		if conflict.DeleteSuperseded(op.Timestamp, server.UpdatedAt()) {
			// The record was edited after the delete was queued; the later
			// edit wins. Adopt the server's copy locally and drop the delete.
			e.logger.Info("queued delete superseded by later edit",
				zap.String("table", op.Table), zap.String("id", id))
			e.applyLocal(op.Table, server)
			return nil
		}
		return e.backend.Delete(ctx, op.Table, id)

	default:
		return fmt.Errorf("unknown queue operation %q", op.Operation)
	}
}

func (e *Engine) serverRecord(ctx context.Context, table, id string) (collection.Record, error) {
	rows, err := e.backend.Select(ctx, table, collection.Filters{collection.FieldID: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// SyncAllData performs a full resync of the configured collections: pending
// local mutations are drained first, then every collection is re-fetched
// and the stored data overwritten with the server's view. Per-collection
// failures are aggregated; a partial resync is still useful.
func (e *Engine) SyncAllData(ctx context.Context) error {
	if !e.monitor.Reachable(ctx) {
		return &backend.Error{Kind: backend.KindConnectivity, Message: "backend unreachable, full sync skipped"}
	}

	var errs error
	if err := e.ProcessSyncQueue(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	for _, table := range e.collections {
		if _, err := e.fetchAndPersist(ctx, table, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("resync %s: %w", table, err))
			continue
		}
	}
	e.logger.Info("full sync completed", zap.Int("collections", len(e.collections)))
	return errs
}
