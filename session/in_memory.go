package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentpipe/core"
)

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned session is a copy to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Get returns a copy of an existing session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	copied := *sess
	return &copied, nil
}

// Create stores a new session with a zero checkpoint, overwriting any
// existing entry with the same id.
func (s *InMemoryStore) Create(ctx context.Context, sessionID, userID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess := &core.Session{ID: sessionID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.sessions[sessionID] = sess
	copied := *sess
	return &copied, nil
}

// AdvanceCheckpoint moves the turn checkpoint forward. Moving it backwards is
// rejected so a slow concurrent turn cannot roll back a newer one.
func (s *InMemoryStore) AdvanceCheckpoint(ctx context.Context, sessionID string, messageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	if messageCount < sess.MessageCount {
		return fmt.Errorf("checkpoint for session %s cannot move backwards (%d -> %d)", sessionID, sess.MessageCount, messageCount)
	}
	sess.MessageCount = messageCount
	sess.UpdatedAt = time.Now().UTC()
	return nil
}
