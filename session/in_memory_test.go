package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/core"
)

// Interface compliance (compile-time assertion)
var _ core.SessionStore = (*InMemoryStore)(nil)

func TestInMemoryStore_GetUnknown(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	s := NewInMemoryStore()

	created, err := s.Create(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, created.MessageCount)

	got, err := s.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "user-1", got.UserID)

	// Mutating the returned copy must not leak into the store.
	got.MessageCount = 99
	again, err := s.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.MessageCount)
}

func TestInMemoryStore_AdvanceCheckpoint(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Create(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, s.AdvanceCheckpoint(context.Background(), "sess-1", 4))

	got, err := s.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.MessageCount)

	// Backwards movement is rejected; equal is a no-op.
	assert.Error(t, s.AdvanceCheckpoint(context.Background(), "sess-1", 2))
	assert.NoError(t, s.AdvanceCheckpoint(context.Background(), "sess-1", 4))

	assert.ErrorIs(t, s.AdvanceCheckpoint(context.Background(), "missing", 1), core.ErrSessionNotFound)
}
