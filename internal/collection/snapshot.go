package collection

// Snapshot is the last-known-good materialized view of a collection,
// optionally filtered, as persisted in the local store cache.
type Snapshot struct {
	Data []Record `json:"data"`
	// Timestamp is when this snapshot was captured (unix ms). Monotonically
	// non-decreasing per cache key.
	Timestamp int64 `json:"timestamp"`
	// LastSync is when the data was last confirmed against the remote
	// backend (unix ms). Zero if the snapshot was built locally.
	LastSync int64 `json:"lastSync"`
}

// Age returns how stale the snapshot is, in milliseconds, relative to now.
func (s *Snapshot) Age(nowMillis int64) int64 {
	return nowMillis - s.Timestamp
}
