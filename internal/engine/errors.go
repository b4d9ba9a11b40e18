package engine

import (
	"errors"
	"fmt"
)

// ErrAuthRequired is returned for writes attempted without an authenticated
// backend session. Writes are never silently queued without auth.
var ErrAuthRequired = errors.New("authentication required for writes")

// VersionConflictError reports an optimistic-concurrency mismatch: the
// record changed on the server since the caller last read it. Refresh and
// retry.
type VersionConflictError struct {
	Table     string
	ID        string
	Current   int64 // server's version
	Attempted int64 // caller's version
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: server has %d, attempted %d",
		e.Table, e.ID, e.Current, e.Attempted)
}
