package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/tahseelapp/tahseel/internal/backend"
	"github.com/tahseelapp/tahseel/internal/collection"
	"github.com/tahseelapp/tahseel/internal/queue"
	"go.uber.org/zap"
)

// Create inserts a record, generating an id when the caller omitted one.
// Online, the write goes to the backend with upsert-by-id semantics so it is
// idempotent under retry. Offline or on a retryable remote failure, the
// record is written to the local store synchronously and queued.
func (e *Engine) Create(ctx context.Context, table string, data collection.Record) (*WriteResult, error) {
	if err := e.requireSession(ctx); err != nil {
		return nil, err
	}

	now := e.now()
	rec := data.Clone()
	if rec.ID() == "" {
		rec[collection.FieldID] = uuid.New().String()
	}
	rec[collection.FieldUpdatedAt] = now
	rec[collection.FieldClientUpdatedAt] = now

	if e.monitor.Reachable(ctx) {
		row, err := e.backend.Upsert(ctx, table, rec, collection.FieldID)
		if err == nil {
			e.applyLocal(table, row)
			e.cache.InvalidateVariants(table)
			return &WriteResult{Record: row, FromRemote: true}, nil
		}
		if !backend.IsRetryable(err) {
			return nil, err
		}
		e.logger.Warn("remote create failed, queueing",
			zap.String("table", table), zap.String("id", rec.ID()), zap.Error(err))
	}

	return e.queueMutation(table, queue.OpInsert, rec, nil)
}

// Update patches the record with the given id. Online, optimistic
// concurrency applies when the caller supplies a version: the server's
// current version is read first and a mismatch is rejected with a
// VersionConflictError. Offline or on a retryable failure, the patch is
// merged into the local record and queued.
func (e *Engine) Update(ctx context.Context, table, id string, patch collection.Record) (*WriteResult, error) {
	if err := e.requireSession(ctx); err != nil {
		return nil, err
	}

	callerVersion, hasVersion := patch.Version()
	now := e.now()

	if e.monitor.Reachable(ctx) {
		rows, err := e.backend.Select(ctx, table, collection.Filters{collection.FieldID: id})
		switch {
		case err != nil && !backend.IsRetryable(err):
			return nil, err
		case err == nil && len(rows) > 0:
			server := rows[0]
			serverVersion, _ := server.Version()
			if hasVersion && serverVersion != callerVersion {
				return nil, &VersionConflictError{
					Table: table, ID: id,
					Current: serverVersion, Attempted: callerVersion,
				}
			}
			upd := patch.Clone()
			upd[collection.FieldUpdatedAt] = now
			if hasVersion {
				upd[collection.FieldVersion] = callerVersion + 1
			} else if _, ok := server.Version(); ok {
				upd[collection.FieldVersion] = serverVersion + 1
			}
			row, uerr := e.backend.Update(ctx, table, id, upd)
			if uerr == nil {
				e.applyLocal(table, collection.Merge(server, row))
				e.cache.InvalidateVariants(table)
				return &WriteResult{Record: row, FromRemote: true}, nil
			}
			if !backend.IsRetryable(uerr) {
				return nil, uerr
			}
			e.logger.Warn("remote update failed, queueing",
				zap.String("table", table), zap.String("id", id), zap.Error(uerr))
		}
		// Select failed retryably or found nothing server-side: the queue
		// path below records the intent either way.
	}

	local := e.localRecord(table, id)
	merged := patch.Clone()
	if local != nil {
		merged = collection.Merge(local, patch)
	}
	merged[collection.FieldID] = id
	merged[collection.FieldUpdatedAt] = now
	merged[collection.FieldClientUpdatedAt] = now
	if hasVersion {
		merged[collection.FieldVersion] = callerVersion + 1
	}

	var verPtr *int64
	if hasVersion {
		v := callerVersion
		verPtr = &v
	}
	return e.queueMutation(table, queue.OpUpdate, merged, verPtr)
}

// Remove deletes the record with the given id. Online, a server-side
// not-found counts as success (the outcome is already true). Offline or on
// a retryable failure, the record is removed locally and the delete queued.
func (e *Engine) Remove(ctx context.Context, table, id string) (*WriteResult, error) {
	if err := e.requireSession(ctx); err != nil {
		return nil, err
	}

	if e.monitor.Reachable(ctx) {
		err := e.backend.Delete(ctx, table, id)
		if err == nil || backend.KindOf(err) == backend.KindNotFound {
			e.removeLocal(table, id)
			e.cache.InvalidateVariants(table)
			return &WriteResult{FromRemote: true}, nil
		}
		if !backend.IsRetryable(err) {
			return nil, err
		}
		e.logger.Warn("remote delete failed, queueing",
			zap.String("table", table), zap.String("id", id), zap.Error(err))
	}

	e.removeLocal(table, id)
	op, err := e.queue.Enqueue(table, queue.OpDelete, collection.Record{collection.FieldID: id}, nil)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateVariants(table)
	if e.bus != nil {
		e.bus.Emit("queue.enqueued", op.ID)
	}
	return &WriteResult{Queued: true}, nil
}

// queueMutation applies a mutation to the local store synchronously (so the
// caller's next read observes it) and records it on the sync queue.
func (e *Engine) queueMutation(table string, op queue.Operation, rec collection.Record, version *int64) (*WriteResult, error) {
	e.applyLocal(table, rec)
	entry, err := e.queue.Enqueue(table, op, rec, version)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateVariants(table)
	if e.bus != nil {
		e.bus.Emit("queue.enqueued", entry.ID)
	}
	return &WriteResult{Record: entry.Data, Queued: true}, nil
}

func (e *Engine) localRecord(table, id string) collection.Record {
	for _, r := range e.db.GetCollection(table) {
		if r.ID() == id {
			return r
		}
	}
	return nil
}
