// Package queue is the durable, ordered log of local mutations that have not
// yet been confirmed against the remote backend. It is the sole source of
// truth for "what local state hasn't reached the server", persisted in the
// local store's SQLite database so it survives restarts.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tahseelapp/tahseel/internal/collection"
	"github.com/tahseelapp/tahseel/internal/store"
)

// Operation is the kind of a queued mutation.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Op is one pending local mutation. Ops for the same queue are replayed in
// ascending Timestamp order to preserve causal intent.
type Op struct {
	ID        string
	Table     string
	Operation Operation
	Data      collection.Record
	Timestamp int64 // unix ms, assigned at enqueue
	Version   *int64
	ClientID  string
}

// Queue persists pending mutations in the store database.
type Queue struct {
	db       *store.DB
	clientID string
	now      func() int64
}

// New creates a queue over the store database. The process-wide client id is
// resolved once and stamped onto every entry.
func New(db *store.DB) (*Queue, error) {
	clientID, err := db.ClientID()
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}
	return &Queue{db: db, clientID: clientID, now: collection.NowMillis}, nil
}

// ClientID returns the identity stamped onto queued mutations.
func (q *Queue) ClientID() string { return q.clientID }

// Enqueue records a pending mutation. The record's updated_at and
// client_updated_at are stamped with the current local time, which later
// serves as the mutation's base for conflict detection during replay.
func (q *Queue) Enqueue(table string, op Operation, data collection.Record, version *int64) (*Op, error) {
	now := q.now()
	data = data.Clone()
	data[collection.FieldUpdatedAt] = now
	data[collection.FieldClientUpdatedAt] = now

	entry := &Op{
		ID:        uuid.New().String(),
		Table:     table,
		Operation: op,
		Data:      data,
		Timestamp: now,
		Version:   version,
		ClientID:  q.clientID,
	}

	raw, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("serialize op data: %w", err)
	}
	var ver sql.NullInt64
	if version != nil {
		ver = sql.NullInt64{Int64: *version, Valid: true}
	}
	_, err = q.db.Exec(`
		INSERT INTO sync_queue (id, tbl, operation, data, ts, version, client_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, table, string(op), string(raw), entry.Timestamp, ver, q.clientID)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return entry, nil
}

// PeekAll returns every pending op in replay order: ascending timestamp,
// with insertion order (rowid) breaking same-millisecond ties.
func (q *Queue) PeekAll() ([]Op, error) {
	return q.peek(`SELECT id, tbl, operation, data, ts, version, client_id
		FROM sync_queue ORDER BY ts ASC, rowid ASC`)
}

// PeekTable returns the pending ops for one table in replay order.
func (q *Queue) PeekTable(table string) ([]Op, error) {
	return q.peek(`SELECT id, tbl, operation, data, ts, version, client_id
		FROM sync_queue WHERE tbl = ? ORDER BY ts ASC, rowid ASC`, table)
}

func (q *Queue) peek(query string, args ...any) ([]Op, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []Op
	for rows.Next() {
		var (
			op   Op
			kind string
			raw  string
			ver  sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Table, &kind, &raw, &op.Timestamp, &ver, &op.ClientID); err != nil {
			return nil, err
		}
		op.Operation = Operation(kind)
		if ver.Valid {
			v := ver.Int64
			op.Version = &v
		}
		if err := json.Unmarshal([]byte(raw), &op.Data); err != nil {
			// An unreadable entry can never be replayed; skip it rather
			// than wedge the whole queue.
			continue
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RemoveByID discards a pending op, after successful remote application or a
// terminal already-satisfied error.
func (q *Queue) RemoveByID(id string) error {
	_, err := q.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// Len returns the number of pending ops.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}
