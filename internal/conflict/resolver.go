// Package conflict decides, for a record edited both locally and on the
// server, which side wins. The strategy is last-writer-wins at whole-record
// granularity: deliberately simple so operators reconciling financial
// records can predict the outcome. A future field-level merge can replace
// this package without touching the facade.
package conflict

import "github.com/tahseelapp/tahseel/internal/collection"

// Values stored under the conflict_resolution field of a merged record.
const (
	LocalWins  = "local_wins_timestamp"
	ServerWins = "server_wins_timestamp"
)

// SkewToleranceMillis absorbs clock skew between client and server when
// deciding whether a queued mutation still matches the server state.
const SkewToleranceMillis = 1000

// Resolver merges a local mutation with the current server record.
// The zero value is not usable; construct with NewResolver.
type Resolver struct {
	now func() int64
}

// NewResolver creates a resolver stamping merge results with wall-clock time.
func NewResolver() *Resolver {
	return &Resolver{now: collection.NowMillis}
}

// NewResolverAt creates a resolver with an injected clock, for tests.
func NewResolverAt(now func() int64) *Resolver {
	return &Resolver{now: now}
}

// Resolve returns the merged record for a local/server pair. It is
// deterministic given the two inputs and the injected clock, and modifies
// neither input. Rules, in order:
//
//  1. server absent           — local wins outright (becomes an insert)
//  2. local absent            — server wins outright
//  3. local strictly newer    — server merged with local fields on top,
//     fresh updated_at, marked local_wins_timestamp
//  4. server newer or equal   — local merged with server fields on top,
//     marked server_wins_timestamp
//
// "Local newer" compares max(updated_at, client_updated_at) of the local
// record against the server's updated_at.
func (r *Resolver) Resolve(table string, local, server collection.Record) collection.Record {
	_ = table // reserved for per-table strategies

	if server == nil {
		return local.Clone()
	}
	if local == nil {
		return server.Clone()
	}

	localLatest := local.UpdatedAt()
	if cu := local.ClientUpdatedAt(); cu > localLatest {
		localLatest = cu
	}

	if localLatest > server.UpdatedAt() {
		merged := collection.Merge(server, local)
		merged[collection.FieldUpdatedAt] = r.now()
		merged[collection.FieldConflictResolution] = LocalWins
		return merged
	}

	merged := collection.Merge(local, server)
	merged[collection.FieldConflictResolution] = ServerWins
	return merged
}

// NeedsResolution reports whether a queued update/delete has diverged from
// the server: the server's updated_at differs from the mutation's base by
// more than the skew tolerance. When false, the mutation applies directly
// with no resolution overhead.
func NeedsResolution(baseUpdatedAt, serverUpdatedAt int64) bool {
	diff := serverUpdatedAt - baseUpdatedAt
	if diff < 0 {
		diff = -diff
	}
	return diff > SkewToleranceMillis
}

// DeleteSuperseded reports whether a queued delete must be abandoned because
// the server record was modified after the delete was queued. Last-writer-
// wins is inverted for deletes: a later edit resurrects precedence over an
// earlier delete.
func DeleteSuperseded(opTimestamp, serverUpdatedAt int64) bool {
	return serverUpdatedAt > opTimestamp+SkewToleranceMillis
}
