// Package collection defines the data model shared by the local store, the
// sync queue and the access facade: schemaless records keyed by string id,
// equality/in-set filters, and timestamped collection snapshots.
package collection

import "time"

// Well-known record fields. Records are schemaless maps; these are the only
// fields the engine itself interprets.
const (
	FieldID                 = "id"
	FieldUpdatedAt          = "updated_at"
	FieldClientUpdatedAt    = "client_updated_at"
	FieldVersion            = "version"
	FieldConflictResolution = "conflict_resolution"
)

// Record is a single row of a collection. Values are JSON-serializable;
// numbers decode as float64 after a round-trip through the local store.
type Record map[string]any

// ID returns the record's id, or "" if absent.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// UpdatedAt returns the server-authoritative last-write time in unix
// milliseconds, or 0 if absent.
func (r Record) UpdatedAt() int64 {
	return r.Int64(FieldUpdatedAt)
}

// ClientUpdatedAt returns the local last-write time in unix milliseconds,
// or 0 if absent.
func (r Record) ClientUpdatedAt() int64 {
	return r.Int64(FieldClientUpdatedAt)
}

// Version returns the optimistic-concurrency version and whether it is set.
func (r Record) Version() (int64, bool) {
	if _, ok := r[FieldVersion]; !ok {
		return 0, false
	}
	return r.Int64(FieldVersion), true
}

// Int64 reads a numeric field, tolerating the numeric types a JSON
// round-trip or a caller may produce.
func (r Record) Int64(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	default:
		return 0
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns base shallow-merged with overlay (overlay fields win).
// Neither input is modified.
func Merge(base, overlay Record) Record {
	out := base.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Dedupe removes duplicate ids from records, keeping the last occurrence.
// Relative order of the surviving records is preserved.
func Dedupe(records []Record) []Record {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[r.ID()] = i
	}
	out := make([]Record, 0, len(last))
	for i, r := range records {
		if last[r.ID()] == i {
			out = append(out, r)
		}
	}
	return out
}

// NowMillis returns the current wall-clock time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
