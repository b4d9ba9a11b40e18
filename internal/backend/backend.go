// Package backend defines the contract with the remote backend-as-a-service
// and a PostgREST-flavored HTTP implementation of it. The sync engine treats
// the backend as opaque: tables of JSON rows keyed by string id, plus an
// authentication session query and a liveness probe.
package backend

import (
	"context"

	"github.com/tahseelapp/tahseel/internal/collection"
)

// Session describes the authenticated backend session, if any.
type Session struct {
	UserID      string
	AccessToken string
}

// Client is the remote backend contract consumed by the sync engine.
// Implementations must return *Error values for remote failures so the
// engine can classify them.
type Client interface {
	// Select returns rows from a table matching the filters (nil = all).
	Select(ctx context.Context, table string, filters collection.Filters) ([]collection.Record, error)
	// Insert creates a row and returns it as stored by the server.
	Insert(ctx context.Context, table string, row collection.Record) (collection.Record, error)
	// Upsert creates or replaces a row keyed by conflictKey. Idempotent
	// under retry, which makes it the create path during queue replay.
	Upsert(ctx context.Context, table string, row collection.Record, conflictKey string) (collection.Record, error)
	// Update patches the row with the given id and returns the result.
	Update(ctx context.Context, table, id string, patch collection.Record) (collection.Record, error)
	// Delete removes the row with the given id.
	Delete(ctx context.Context, table, id string) error
	// CurrentSession returns the active session, or (nil, nil) when
	// unauthenticated. Writes are gated on a non-nil session.
	CurrentSession(ctx context.Context) (*Session, error)
	// Ping is a lightweight liveness probe used by the connection monitor.
	Ping(ctx context.Context) error
}
