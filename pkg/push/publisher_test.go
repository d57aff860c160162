package push

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPublisher(interval time.Duration) (*Publisher, *Registry) {
	r := testRegistry()
	return NewPublisher(slog.Default(), r, interval), r
}

func TestPublisherProgressBurstCoalesces(t *testing.T) {
	p, r := testPublisher(50 * time.Millisecond)

	sink := &fakeSink{}
	r.Activate(newSub("conn-1", "sess-a", sink), "req-1")

	// A burst of 10 progress updates for one stage within the window.
	for i := 1; i <= 10; i++ {
		p.PublishProgress("req-1", "provider", i*10, "RUNNING")
	}

	// The first update goes out immediately; the rest collapse into one
	// deferred emission carrying the newest value.
	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, time.Second, 5*time.Millisecond)

	events := sink.events(t)
	var first, last ProgressPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	require.NoError(t, json.Unmarshal(events[1].Payload, &last))
	assert.Equal(t, 10, first.Progress)
	assert.Equal(t, 100, last.Progress)
}

func TestPublisherCoalescesPerStage(t *testing.T) {
	p, r := testPublisher(time.Minute)

	sink := &fakeSink{}
	r.Activate(newSub("conn-1", "sess-a", sink), "req-1")

	p.PublishProgress("req-1", "gate", 25, "RUNNING")
	p.PublishProgress("req-1", "intent", 40, "RUNNING")

	// Different stages do not share a coalescing window.
	assert.Len(t, sink.events(t), 2)
}

func TestPublisherTerminalNotCoalesced(t *testing.T) {
	p, r := testPublisher(time.Minute)

	sink := &fakeSink{}
	r.Activate(newSub("conn-1", "sess-a", sink), "req-1")

	p.PublishProgress("req-1", "provider", 60, "RUNNING")
	p.PublishProgress("req-1", "provider", 61, "RUNNING") // queued behind the window
	summary := p.PublishDone("req-1", "DONE_SUCCESS", 7)
	assert.Equal(t, Summary{Attempted: 1, Sent: 1}, summary)

	// Give any stray flush a chance to fire; the terminal must stay last
	// and the queued progress must have been dropped.
	time.Sleep(20 * time.Millisecond)
	events := sink.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeProgress, events[0].Type)
	assert.Equal(t, EventTypeDone, events[1].Type)

	var done DonePayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &done))
	assert.Equal(t, "DONE_SUCCESS", done.Status)
	assert.Equal(t, 7, done.ReturnedCount)
}

func TestPublisherErrorEventPayload(t *testing.T) {
	p, r := testPublisher(time.Minute)

	sink := &fakeSink{}
	r.Activate(newSub("conn-1", "sess-a", sink), "req-1")

	p.PublishError("req-1", "SEARCH_FAILED", "Search failed. Please retry.")

	events := sink.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "SEARCH_FAILED", payload.Code)
}

func TestPublisherAssistantEvent(t *testing.T) {
	p, r := testPublisher(time.Minute)

	sink := &fakeSink{}
	r.Activate(newSub("conn-1", "sess-a", sink), "req-1")

	p.PublishAssistant("req-1", "CLARIFY", "Which city did you mean?", true)

	events := sink.events(t)
	require.Len(t, events, 1)
	var payload AssistantPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "CLARIFY", payload.Kind)
	assert.True(t, payload.BlocksSearch)
}

func TestPublisherUninitializedReturnsZeroSummary(t *testing.T) {
	p := NewPublisher(slog.Default(), nil, 100*time.Millisecond)

	// Never panics: every publish is a silent zero summary.
	assert.Equal(t, Summary{}, p.PublishProgress("req-1", "gate", 25, "RUNNING"))
	assert.Equal(t, Summary{}, p.PublishDone("req-1", "DONE_SUCCESS", 0))
	assert.Equal(t, Summary{}, p.PublishError("req-1", "SEARCH_FAILED", "x"))
	assert.Equal(t, Summary{}, p.PublishAssistant("req-1", "SUMMARY", "x", false))
	assert.Equal(t, Summary{}, p.PublishStatus("req-1", "RUNNING", 10))
}
