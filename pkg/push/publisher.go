package push

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tablescout/tablescout/pkg/logging"
)

// progressLogSampleEvery keeps progress-publish debug logging to one line
// per N events across all requests.
const progressLogSampleEvery = 10

// Publisher is the pipeline's only handle on push delivery. Every method
// returns a delivery summary and never an error: push failures are logged
// and discarded so they cannot leak into pipeline control flow.
//
// Progress events are coalesced per (requestId, stage): during a burst
// only the most recent event per key is kept and emitted at most once per
// coalesce interval. Assistant, status, and terminal events bypass
// coalescing.
type Publisher struct {
	log      *slog.Logger
	registry *Registry
	interval time.Duration
	sample   *logging.Sampler

	mu       sync.Mutex
	latest   map[coalesceKey]*Event
	lastEmit map[coalesceKey]time.Time
	timers   map[coalesceKey]*time.Timer

	uninitializedOnce sync.Once
}

type coalesceKey struct {
	requestID string
	stage     string
}

// NewPublisher creates a publisher over the registry. A nil registry yields
// an uninitialized publisher that logs once and reports zero summaries.
func NewPublisher(log *slog.Logger, registry *Registry, coalesceInterval time.Duration) *Publisher {
	return &Publisher{
		log:      log.With("component", "push_publisher"),
		registry: registry,
		interval: coalesceInterval,
		sample:   logging.NewSampler(progressLogSampleEvery),
		latest:   make(map[coalesceKey]*Event),
		lastEmit: make(map[coalesceKey]time.Time),
		timers:   make(map[coalesceKey]*time.Timer),
	}
}

// PublishProgress emits a progress event, coalesced per (requestId, stage).
// A deferred (coalesced) emission reports a zero summary.
func (p *Publisher) PublishProgress(requestID, stage string, progress int, status string) Summary {
	if !p.ready() {
		return Summary{}
	}
	payload, err := json.Marshal(ProgressPayload{Stage: stage, Progress: progress, Status: status})
	if err != nil {
		p.log.Warn("ws_publish_error", "request_id", requestID, "error", err)
		return Summary{}
	}
	evt := newEvent(EventTypeProgress, requestID, payload)
	if p.sample.Allow() {
		p.log.Debug("progress_event",
			"request_id", requestID, "stage", stage, "progress", progress)
	}

	key := coalesceKey{requestID: requestID, stage: stage}
	p.mu.Lock()
	elapsed := time.Since(p.lastEmit[key])
	if elapsed >= p.interval && p.timers[key] == nil {
		p.lastEmit[key] = time.Now()
		p.mu.Unlock()
		return p.registry.Publish(ChannelSearch, requestID, evt)
	}

	// Inside the window: keep only the newest event and arm one flush timer.
	p.latest[key] = evt
	if p.timers[key] == nil {
		delay := p.interval - elapsed
		if delay < 0 {
			delay = 0
		}
		p.timers[key] = time.AfterFunc(delay, func() { p.flush(key) })
	}
	p.mu.Unlock()
	return Summary{}
}

// PublishAssistant emits an assistant message event, uncoalesced.
func (p *Publisher) PublishAssistant(requestID, kind, text string, blocksSearch bool) Summary {
	return p.publishPayload(requestID, EventTypeAssistant,
		AssistantPayload{Kind: kind, Text: text, BlocksSearch: blocksSearch})
}

// PublishStatus emits a status event, uncoalesced.
func (p *Publisher) PublishStatus(requestID, status string, progress int) Summary {
	return p.publishPayload(requestID, EventTypeStatus,
		StatusPayload{Status: status, Progress: progress})
}

// PublishError emits the terminal error event for a request.
func (p *Publisher) PublishError(requestID, code, message string) Summary {
	p.dropPending(requestID)
	return p.publishPayload(requestID, EventTypeError,
		ErrorPayload{Code: code, Message: message})
}

// PublishDone emits the terminal done event for a request.
func (p *Publisher) PublishDone(requestID, status string, returnedCount int) Summary {
	p.dropPending(requestID)
	return p.publishPayload(requestID, EventTypeDone,
		DonePayload{Status: status, ReturnedCount: returnedCount})
}

func (p *Publisher) publishPayload(requestID, eventType string, payload any) Summary {
	if !p.ready() {
		return Summary{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("ws_publish_error", "request_id", requestID, "event_type", eventType, "error", err)
		return Summary{}
	}
	return p.registry.Publish(ChannelSearch, requestID, newEvent(eventType, requestID, data))
}

// flush emits the newest coalesced event for a key, if one is still queued.
func (p *Publisher) flush(key coalesceKey) {
	p.mu.Lock()
	evt := p.latest[key]
	delete(p.latest, key)
	delete(p.timers, key)
	if evt != nil {
		p.lastEmit[key] = time.Now()
	}
	p.mu.Unlock()

	if evt != nil {
		p.registry.Publish(ChannelSearch, key.requestID, evt)
	}
}

// dropPending discards queued coalesced progress for a request so a
// terminal event is guaranteed to be its last event.
func (p *Publisher) dropPending(requestID string) {
	if p.registry == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, t := range p.timers {
		if key.requestID != requestID {
			continue
		}
		t.Stop()
		delete(p.timers, key)
		delete(p.latest, key)
	}
}

// ready reports whether the publisher is wired to a registry. The first
// miss logs at error level; every call then reports a zero summary, which
// callers treat as success.
func (p *Publisher) ready() bool {
	if p.registry != nil {
		return true
	}
	p.uninitializedOnce.Do(func() {
		p.log.Error("push publisher not initialized; events will be dropped",
			"severity", "critical")
	})
	return false
}
