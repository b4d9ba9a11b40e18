package engine

import "github.com/tahseelapp/tahseel/internal/collection"

// ReadResult is the outcome of GetAll: the records plus provenance flags
// telling the caller whether they came straight from the remote backend, a
// cache snapshot, or the raw local collection.
type ReadResult struct {
	Records        []collection.Record
	FromRemote     bool
	FromCache      bool
	FromLocalStore bool
}

// RecordResult is the outcome of GetByID. Record is nil when the id does
// not exist anywhere.
type RecordResult struct {
	Record         collection.Record
	FromRemote     bool
	FromLocalStore bool
}

// WriteResult is the outcome of Create, Update or Remove. Queued reports
// that the mutation was recorded on the sync queue instead of (or before)
// reaching the backend; FromRemote that the backend confirmed it.
type WriteResult struct {
	Record     collection.Record
	Queued     bool
	FromRemote bool
}
