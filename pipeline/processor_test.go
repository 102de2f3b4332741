package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/citation"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/eventlog"
	"github.com/hupe1980/agentpipe/internal/testutil"
	"github.com/hupe1980/agentpipe/jobqueue"
)

func newTestProcessor(t *testing.T) (*Processor, *eventlog.InMemoryLog, *jobqueue.InMemoryQueue) {
	t.Helper()
	log := eventlog.NewInMemoryLog()
	queue := jobqueue.NewInMemoryQueue(log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})
	p := NewProcessor(NewPersister(log, queue), citation.NewExtractor(), nil)
	return p, log, queue
}

func TestProcess_SyncEventEmittedAsPersisted(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	seqs := reserve(t, log, "sess-1", 1)
	ev := testutil.NewEventBuilder("sess-1").Thinking("hmm").Sequence(seqs[0]).Build()

	require.NoError(t, p.Process(context.Background(), &ev, ectx))

	events := collector.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventThinking, events[0].Type)
	assert.Equal(t, core.PersistencePersisted, events[0].Persistence)
	assert.Equal(t, 0, events[0].EventIndex)
}

func TestProcess_SyncFailureReturnsPersistenceError(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	// Sequence 99 was never reserved, so the direct write fails.
	ev := testutil.NewEventBuilder("sess-1").Thinking("hmm").Sequence(99).Build()

	err := p.Process(context.Background(), &ev, ectx)
	require.Error(t, err)

	var persistErr *PersistenceError
	assert.ErrorAs(t, err, &persistErr)

	// Nothing reaches the client on a sync failure.
	assert.Empty(t, collector.Events())
}

func TestProcess_TransientEventEmitted(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	ev := testutil.NewEventBuilder("sess-1").Complete().Build()
	require.NoError(t, p.Process(context.Background(), &ev, ectx))

	events := collector.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.PersistenceTransient, events[0].Persistence)
	assert.Empty(t, log.Events("sess-1"))
}

func TestProcess_DuplicateToolRequestNotEmitted(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	seqs := reserve(t, log, "sess-1", 2)
	first := testutil.NewEventBuilder("sess-1").ToolRequest("tool-1", "web_search", `{}`).Sequence(seqs[0]).Build()
	dup := testutil.NewEventBuilder("sess-1").ToolRequest("tool-1", "web_search", `{}`).Sequence(seqs[1]).Build()

	require.NoError(t, p.Process(context.Background(), &first, ectx))
	require.NoError(t, p.Process(context.Background(), &dup, ectx))

	assert.Len(t, collector.OfType(core.EventToolRequest), 1)
}

func TestProcess_OrphanToolResponseNotEmitted(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	seqs := reserve(t, log, "sess-1", 1)
	resp := testutil.NewEventBuilder("sess-1").ToolResponse("ghost", "web_search", "ok", true).Sequence(seqs[0]).Build()

	require.NoError(t, p.Process(context.Background(), &resp, ectx))
	assert.Empty(t, collector.Events())
}

func TestProcess_CitationsExtractedFromToolResponse(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	result := `{"results":[{"title":"Go","url":"https://go.dev","snippet":"The Go site"}]}`

	seqs := reserve(t, log, "sess-1", 2)
	req := testutil.NewEventBuilder("sess-1").ToolRequest("tool-1", "web_search", `{}`).Sequence(seqs[0]).Build()
	resp := testutil.NewEventBuilder("sess-1").ToolResponse("tool-1", "web_search", result, true).Sequence(seqs[1]).Build()

	require.NoError(t, p.Process(context.Background(), &req, ectx))
	require.NoError(t, p.Process(context.Background(), &resp, ectx))

	require.Len(t, ectx.CitedSources, 1)
	assert.Equal(t, "https://go.dev", ectx.CitedSources[0].URL)
}

func TestProcess_FailedToolResponseYieldsNoCitations(t *testing.T) {
	p, log, _ := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)

	seqs := reserve(t, log, "sess-1", 2)
	req := testutil.NewEventBuilder("sess-1").ToolRequest("tool-1", "web_search", `{}`).Sequence(seqs[0]).Build()
	resp := testutil.NewEventBuilder("sess-1").ToolResponse("tool-1", "web_search", "search backend down", false).Sequence(seqs[1]).Build()

	require.NoError(t, p.Process(context.Background(), &req, ectx))
	require.NoError(t, p.Process(context.Background(), &resp, ectx))

	assert.Empty(t, ectx.CitedSources)
}

func TestProcess_CompleteSchedulesCitations(t *testing.T) {
	p, log, queue := newTestProcessor(t)

	collector := testutil.NewCollector()
	ectx := core.NewExecutionContext("sess-1", "user-1", collector.Emit)
	ectx.AddCitations([]core.Citation{{Title: "Go", URL: "https://go.dev"}})
	ectx.LastAssistantMessageID = "msg-1"

	ev := testutil.NewEventBuilder("sess-1").Complete().Build()
	require.NoError(t, p.Process(context.Background(), &ev, ectx))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, queue.Shutdown(ctx))

	assert.Len(t, log.EventsOfType("sess-1", core.EventCitations), 1)
}
