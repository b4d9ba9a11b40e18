package bus

import "time"

// Event represents a sync-engine event published on the bus.
//
// Kinds are dotted, namespace first:
//
//	env.online / env.offline           — host connectivity signals (input)
//	conn.online / conn.offline         — monitor state transitions
//	queue.enqueued / queue.drained     — sync queue activity
//	collection.updated                 — a collection's local data changed
//	collection.invalidated             — cache entries for a table were dropped
//	collection.refreshed               — a background refresh completed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
