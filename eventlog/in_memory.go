package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentpipe/core"
)

// StoredEvent is one durable log row.
type StoredEvent struct {
	ID        string
	SessionID string
	Type      core.EventType
	Payload   []byte
	Sequence  int64
	Timestamp time.Time
}

// InMemoryLog is a volatile core.EventLog implementation. It enforces the
// same invariants as a durable backend: per-session monotonic sequence
// numbers handed out only in contiguous blocks, and uniqueness of
// (session, sequence) on write.
type InMemoryLog struct {
	mu       sync.Mutex
	lastSeq  map[string]int64
	events   map[string][]StoredEvent
	usedSeqs map[string]map[int64]bool
}

// NewInMemoryLog constructs an empty in-memory event log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		lastSeq:  make(map[string]int64),
		events:   make(map[string][]StoredEvent),
		usedSeqs: make(map[string]map[int64]bool),
	}
}

// ReserveSequenceNumbers atomically claims a contiguous block of count
// sequence numbers for the session. count must be positive: reserving zero is
// a caller bug the sequencer is expected to prevent.
func (l *InMemoryLog) ReserveSequenceNumbers(ctx context.Context, sessionID string, count int) ([]int64, error) {
	if count <= 0 {
		return nil, fmt.Errorf("sequence reservation count must be positive, got %d", count)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.lastSeq[sessionID] + 1
	l.lastSeq[sessionID] += int64(count)

	seqs := make([]int64, count)
	for i := range seqs {
		seqs[i] = start + int64(i)
	}
	return seqs, nil
}

// AppendEvent writes a row at the session's next free sequence number.
func (l *InMemoryLog) AppendEvent(ctx context.Context, sessionID string, eventType core.EventType, payload []byte) (*core.PersistedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeq[sessionID] + 1
	l.lastSeq[sessionID] = seq
	return l.appendLocked(sessionID, eventType, payload, seq)
}

// AppendEventWithSequence writes a row at a previously reserved sequence
// number. Writing the same (session, sequence) twice fails with
// core.ErrSequenceConflict.
func (l *InMemoryLog) AppendEventWithSequence(ctx context.Context, sessionID string, eventType core.EventType, payload []byte, seq int64) (*core.PersistedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq > l.lastSeq[sessionID] {
		return nil, fmt.Errorf("sequence %d for session %s was never reserved", seq, sessionID)
	}
	return l.appendLocked(sessionID, eventType, payload, seq)
}

func (l *InMemoryLog) appendLocked(sessionID string, eventType core.EventType, payload []byte, seq int64) (*core.PersistedEvent, error) {
	used, ok := l.usedSeqs[sessionID]
	if !ok {
		used = make(map[int64]bool)
		l.usedSeqs[sessionID] = used
	}
	if used[seq] {
		return nil, fmt.Errorf("session %s sequence %d: %w", sessionID, seq, core.ErrSequenceConflict)
	}
	used[seq] = true

	row := StoredEvent{
		ID:        core.NewID(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   append([]byte(nil), payload...),
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
	l.events[sessionID] = append(l.events[sessionID], row)

	return &core.PersistedEvent{ID: row.ID, SequenceNumber: seq, Timestamp: row.Timestamp}, nil
}

// Events returns a snapshot of all rows written for the session, in write order.
func (l *InMemoryLog) Events(sessionID string) []StoredEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StoredEvent(nil), l.events[sessionID]...)
}

// EventsOfType returns the session's rows of one type, in write order.
func (l *InMemoryLog) EventsOfType(sessionID string, eventType core.EventType) []StoredEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []StoredEvent
	for _, row := range l.events[sessionID] {
		if row.Type == eventType {
			out = append(out, row)
		}
	}
	return out
}
