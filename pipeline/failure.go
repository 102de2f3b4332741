package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/agentpipe/core"
)

// FailureKind is the root-cause category of a persistence failure. It drives
// retry policy and log severity: integrity violations must not be retried,
// transport hiccups may be.
type FailureKind int

const (
	// FailureUnknown is the fallback category.
	FailureUnknown FailureKind = iota
	// FailureDuplicateKey indicates a unique constraint violation.
	FailureDuplicateKey
	// FailureForeignKey indicates a referential integrity violation.
	FailureForeignKey
	// FailureSequenceConflict indicates a collision on (session, sequence).
	FailureSequenceConflict
	// FailureTimeout indicates the store or job confirmation timed out.
	FailureTimeout
	// FailureConnection indicates the backend refused or dropped the connection.
	FailureConnection
	// FailureUnavailable indicates the backend reported itself unavailable.
	FailureUnavailable
	// FailureQueueBackend indicates the background job queue itself failed.
	FailureQueueBackend
)

// String returns the stable name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureDuplicateKey:
		return "duplicate_key"
	case FailureForeignKey:
		return "foreign_key_violation"
	case FailureSequenceConflict:
		return "sequence_conflict"
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	case FailureUnavailable:
		return "service_unavailable"
	case FailureQueueBackend:
		return "queue_backend"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying the write could plausibly succeed.
// Integrity violations (duplicate key, foreign key, sequence conflict) are
// deterministic and never retryable.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureConnection, FailureUnavailable, FailureQueueBackend:
		return true
	default:
		return false
	}
}

// PersistenceError marks a turn-fatal durable write failure with its
// root-cause category, so callers can tell persistence failures apart from
// engine failures without string inspection.
type PersistenceError struct {
	Kind FailureKind
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return "persistence failure (" + e.Kind.String() + "): " + e.Err.Error()
}

// Unwrap exposes the underlying error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Categorize maps a persistence error to its failure kind.
func Categorize(err error) FailureKind {
	switch {
	case err == nil:
		return FailureUnknown
	case errors.Is(err, core.ErrSequenceConflict):
		return FailureSequenceConflict
	case errors.Is(err, core.ErrDuplicateEvent):
		return FailureDuplicateKey
	case errors.Is(err, core.ErrSessionNotFound):
		return FailureForeignKey
	case errors.Is(err, core.ErrJobTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, core.ErrQueueClosed):
		return FailureQueueBackend
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return FailureDuplicateKey
	case strings.Contains(msg, "foreign key"):
		return FailureForeignKey
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return FailureConnection
	case strings.Contains(msg, "unavailable"):
		return FailureUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return FailureTimeout
	default:
		return FailureUnknown
	}
}
