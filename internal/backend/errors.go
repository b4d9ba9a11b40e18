package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a remote backend failure. The engine's fallback and queue
// policies key off this classification.
type Kind int

const (
	// KindConnectivity means the backend was unreachable. Always
	// recoverable by falling back to the local store and queueing.
	KindConnectivity Kind = iota
	// KindAuth means there is no valid session. Blocking for writes.
	KindAuth
	// KindPermission is a row-level or grant denial. Not retried.
	KindPermission
	// KindDuplicate is a unique-constraint violation. During queue replay
	// the operation is treated as already satisfied.
	KindDuplicate
	// KindForeignKey is a referential-integrity violation.
	KindForeignKey
	// KindSchema is a missing column or other schema mismatch. Not retried.
	KindSchema
	// KindNotFound means the target row does not exist. During queue
	// replay the operation is treated as already satisfied.
	KindNotFound
	// KindTransient is any other failure worth retrying on the next drain.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindDuplicate:
		return "duplicate"
	case KindForeignKey:
		return "foreign_key"
	case KindSchema:
		return "schema"
	case KindNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// Error is a classified remote backend failure.
type Error struct {
	Kind    Kind
	Code    string // backend error code, e.g. "23505" or "PGRST116"
	Message string
	Status  int // HTTP status, 0 for transport-level failures
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %s error [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the classification of err, or KindTransient if err is not a
// backend error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the failure should fall back to the local
// store and the sync queue: the backend was unreachable or failed
// transiently.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindTransient:
		return true
	default:
		return false
	}
}

// IsSatisfied reports whether a queued operation hitting this error is
// already satisfied on the server (duplicate key on insert, not-found on
// update/delete) and can be discarded.
func IsSatisfied(err error) bool {
	switch KindOf(err) {
	case KindDuplicate, KindNotFound:
		return true
	default:
		return false
	}
}

// connErr wraps a transport-level failure as a connectivity error.
func connErr(err error) *Error {
	return &Error{Kind: KindConnectivity, Message: err.Error(), cause: err}
}
