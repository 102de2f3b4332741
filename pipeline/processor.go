package pipeline

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

// Processor drives one normalized event through the full path: persist per
// strategy, convert, emit, extract citations, and trigger the async citation
// write on the terminal complete event.
type Processor struct {
	persister *Persister
	citations core.CitationExtractor
	logger    logging.Logger
}

// NewProcessor creates a processor. The citation extractor may be nil, in
// which case tool responses never yield citations.
func NewProcessor(persister *Persister, citations core.CitationExtractor, logger logging.Logger) *Processor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Processor{persister: persister, citations: citations, logger: logger}
}

// Process handles a single event. A sync persistence failure is returned and
// aborts the turn; everything on the async path is recovered locally. A
// duplicate tool request or an orphan tool response is dropped without
// emission and without error.
func (p *Processor) Process(ctx context.Context, ev *core.NormalizedEvent, ectx *core.ExecutionContext) error {
	confirmed := false

	switch ev.Strategy {
	case core.StrategySyncRequired:
		persisted, err := p.persister.PersistSync(ctx, ev, ectx)
		if err != nil {
			return &PersistenceError{Kind: Categorize(err), Err: fmt.Errorf("event %s (%s): %w", ev.ID, ev.Type, err)}
		}
		confirmed = persisted != nil

	case core.StrategyAsyncAllowed:
		if p.persister.PersistAsync(ctx, ev, ectx) == AsyncDropped {
			return nil
		}

	case core.StrategyTransient:
		// Never written.
	}

	clientEvent := Convert(*ev, ectx.NextEventIndex(), ectx)
	if confirmed {
		clientEvent.Persistence = core.PersistencePersisted
	}
	ectx.EmitEvent(clientEvent)

	if ev.Type == core.EventToolResponse && ev.ToolSuccess && p.citations != nil && p.citations.ProducesCitations(ev.ToolName) {
		extracted := p.citations.Extract(ev.ToolName, ev.ToolResult)
		if len(extracted) > 0 {
			ectx.AddCitations(extracted)
			p.logger.Debug("extracted %d citations from tool=%s", len(extracted), ev.ToolName)
		}
	}

	if ev.Type == core.EventComplete {
		p.persister.ScheduleCitations(ctx, ectx)
	}

	return nil
}
