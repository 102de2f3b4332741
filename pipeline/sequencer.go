package pipeline

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

// Sequencer assigns durable sequence numbers to a batch of normalized events
// before they are processed. Letting each event independently fetch "next
// number" would race across concurrent executions, so the sequencer counts
// the events that need persistence, reserves that many numbers atomically as
// one contiguous block, and assigns them deterministically in list order.
type Sequencer struct {
	log    core.EventLog
	logger logging.Logger
}

// NewSequencer creates a sequencer backed by the given event log.
func NewSequencer(log core.EventLog, logger logging.Logger) *Sequencer {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Sequencer{log: log, logger: logger}
}

// CountPersistable returns how many events in the batch require a durable
// sequence number.
func CountPersistable(events []core.NormalizedEvent) int {
	count := 0
	for i := range events {
		if events[i].IsPersistable() {
			count++
		}
	}
	return count
}

// Sequence reserves one contiguous block for the batch and fills the Sequence
// field of every persistable event in list order. Transient events are left
// untouched. A batch with zero persistable events skips reservation entirely.
func (s *Sequencer) Sequence(ctx context.Context, sessionID string, events []core.NormalizedEvent) error {
	count := CountPersistable(events)
	if count == 0 {
		return nil
	}

	reserved, err := s.log.ReserveSequenceNumbers(ctx, sessionID, count)
	if err != nil {
		return fmt.Errorf("failed to reserve %d sequence numbers: %w", count, err)
	}
	if len(reserved) != count {
		return fmt.Errorf("reserved %d sequence numbers, expected %d", len(reserved), count)
	}

	next := 0
	for i := range events {
		if !events[i].IsPersistable() {
			continue
		}
		seq := reserved[next]
		events[i].Sequence = &seq
		next++
	}

	s.logger.Debug("sequenced batch session_id=%s persistable=%d first_seq=%d", sessionID, count, reserved[0])
	return nil
}
