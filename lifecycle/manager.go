package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hupe1980/agentpipe/logging"
)

// State tracks where a tool call is in its request/response lifecycle.
type State string

const (
	// StateRequested means the request was seen but no response yet.
	StateRequested State = "requested"
	// StateCompleted means the response arrived and reported success.
	StateCompleted State = "completed"
	// StateFailed means the response arrived and reported an error.
	StateFailed State = "failed"
)

// IncompleteOutput is the fixed marker written for tool calls that never
// received a response before the turn ended.
const IncompleteOutput = "[INCOMPLETE: No response received]"

// ToolState is the combined request+response record for one tool call. The
// request creates it, the response completes it, and exactly one durable row
// is written from it, carrying both pre-allocated sequence numbers.
type ToolState struct {
	ToolUseID string          `json:"tool_use_id"`
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	State     State           `json:"state"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`

	RequestedAt time.Time `json:"requested_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// RequestSeq / ResultSeq are the durable sequence numbers reserved for
	// the request and response events respectively.
	RequestSeq *int64 `json:"request_seq,omitempty"`
	ResultSeq  *int64 `json:"result_seq,omitempty"`
}

// Success reports whether the call completed without error.
func (s *ToolState) Success() bool { return s.State == StateCompleted }

// PersistFunc writes one combined tool record to the durable log.
type PersistFunc func(ctx context.Context, state *ToolState) error

// Manager is the per-execution tool lifecycle state machine. It buffers
// requests in memory (never persisting from the request alone) and releases a
// combined record only when the matching response arrives or the turn ends.
type Manager struct {
	logger  logging.Logger
	pending map[string]*ToolState
	// order preserves request arrival order for deterministic orphan flushes.
	order []string
}

// NewManager creates an empty manager. A nil logger falls back to NoOp.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{logger: logger, pending: make(map[string]*ToolState)}
}

// OnRequested inserts a tool call into the pending table. A toolUseID that is
// already pending is logged and ignored: re-registering must be a no-op so a
// duplicated request event cannot clobber in-flight state.
func (m *Manager) OnRequested(sessionID, toolUseID, toolName string, args json.RawMessage, requestSeq *int64) {
	if _, exists := m.pending[toolUseID]; exists {
		m.logger.Warn("tool request already pending, ignoring tool_use_id=%s tool=%s", toolUseID, toolName)
		return
	}
	m.pending[toolUseID] = &ToolState{
		ToolUseID:   toolUseID,
		SessionID:   sessionID,
		ToolName:    toolName,
		State:       StateRequested,
		Args:        args,
		RequestedAt: time.Now().UTC(),
		RequestSeq:  requestSeq,
	}
	m.order = append(m.order, toolUseID)
}

// OnCompleted resolves a pending request with its response. It returns nil
// for an unknown toolUseID (orphan response, dropped) and for a sessionID
// mismatch (consistency violation, dropped); otherwise it removes the pending
// entry, stamps completion and returns the combined record for the caller to
// persist as one unit.
func (m *Manager) OnCompleted(sessionID, toolUseID, result string, success bool, toolErr string, resultSeq *int64) *ToolState {
	state, exists := m.pending[toolUseID]
	if !exists {
		m.logger.Warn("orphan tool response, no pending request tool_use_id=%s session_id=%s", toolUseID, sessionID)
		return nil
	}
	if state.SessionID != sessionID {
		m.logger.Error("tool response session mismatch tool_use_id=%s want=%s got=%s", toolUseID, state.SessionID, sessionID)
		return nil
	}

	delete(m.pending, toolUseID)
	m.removeFromOrder(toolUseID)

	state.Result = result
	state.Error = toolErr
	state.CompletedAt = time.Now().UTC()
	state.ResultSeq = resultSeq
	if success {
		state.State = StateCompleted
	} else {
		state.State = StateFailed
	}
	return state
}

// PendingCount returns the number of unresolved tool calls.
func (m *Manager) PendingCount() int { return len(m.pending) }

// Pending reports whether the given toolUseID is awaiting a response.
func (m *Manager) Pending(toolUseID string) bool {
	_, ok := m.pending[toolUseID]
	return ok
}

// FinalizeOrphans flushes every still-pending tool call for the session as a
// failed record with the fixed incomplete marker, persisting each via persist
// in request order. Persistence failures are logged and do not stop the
// flush. It returns the number of orphans processed.
func (m *Manager) FinalizeOrphans(ctx context.Context, sessionID string, persist PersistFunc) int {
	flushed := 0
	remaining := m.order[:0]
	for _, toolUseID := range m.order {
		state, exists := m.pending[toolUseID]
		if !exists || state.SessionID != sessionID {
			if exists {
				remaining = append(remaining, toolUseID)
			}
			continue
		}

		delete(m.pending, toolUseID)
		state.State = StateFailed
		state.Result = IncompleteOutput
		state.CompletedAt = time.Now().UTC()
		flushed++

		m.logger.Warn("flushing incomplete tool call tool_use_id=%s tool=%s session_id=%s", toolUseID, state.ToolName, sessionID)
		if persist != nil {
			if err := persist(ctx, state); err != nil {
				m.logger.Error("failed to persist incomplete tool call tool_use_id=%s: %v", toolUseID, err)
			}
		}
	}
	m.order = remaining
	return flushed
}

func (m *Manager) removeFromOrder(toolUseID string) {
	for i, id := range m.order {
		if id == toolUseID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
