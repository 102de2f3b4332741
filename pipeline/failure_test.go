package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentpipe/core"
)

func TestCategorize_Sentinels(t *testing.T) {
	assert.Equal(t, FailureSequenceConflict, Categorize(fmt.Errorf("write: %w", core.ErrSequenceConflict)))
	assert.Equal(t, FailureDuplicateKey, Categorize(core.ErrDuplicateEvent))
	assert.Equal(t, FailureForeignKey, Categorize(core.ErrSessionNotFound))
	assert.Equal(t, FailureTimeout, Categorize(core.ErrJobTimeout))
	assert.Equal(t, FailureTimeout, Categorize(context.DeadlineExceeded))
	assert.Equal(t, FailureQueueBackend, Categorize(core.ErrQueueClosed))
}

func TestCategorize_MessageFallback(t *testing.T) {
	assert.Equal(t, FailureDuplicateKey, Categorize(errors.New("UNIQUE constraint failed: events.id")))
	assert.Equal(t, FailureForeignKey, Categorize(errors.New("FOREIGN KEY constraint failed")))
	assert.Equal(t, FailureConnection, Categorize(errors.New("dial tcp: connection refused")))
	assert.Equal(t, FailureConnection, Categorize(errors.New("read: connection reset by peer")))
	assert.Equal(t, FailureUnavailable, Categorize(errors.New("service unavailable")))
	assert.Equal(t, FailureTimeout, Categorize(errors.New("i/o timeout")))
	assert.Equal(t, FailureUnknown, Categorize(errors.New("something else")))
	assert.Equal(t, FailureUnknown, Categorize(nil))
}

func TestFailureKind_Retryable(t *testing.T) {
	assert.True(t, FailureTimeout.Retryable())
	assert.True(t, FailureConnection.Retryable())
	assert.True(t, FailureUnavailable.Retryable())
	assert.True(t, FailureQueueBackend.Retryable())

	assert.False(t, FailureDuplicateKey.Retryable())
	assert.False(t, FailureForeignKey.Retryable())
	assert.False(t, FailureSequenceConflict.Retryable())
	assert.False(t, FailureUnknown.Retryable())
}

func TestFailureKind_String(t *testing.T) {
	assert.Equal(t, "sequence_conflict", FailureSequenceConflict.String())
	assert.Equal(t, "duplicate_key", FailureDuplicateKey.String())
	assert.Equal(t, "unknown", FailureUnknown.String())
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("write: %w", core.ErrSequenceConflict)
	err := &PersistenceError{Kind: FailureSequenceConflict, Err: cause}

	assert.ErrorIs(t, err, core.ErrSequenceConflict)
	assert.Contains(t, err.Error(), "sequence_conflict")

	var persistErr *PersistenceError
	wrapped := fmt.Errorf("turn failed: %w", err)
	assert.True(t, errors.As(wrapped, &persistErr))
	assert.Equal(t, FailureSequenceConflict, persistErr.Kind)
}
