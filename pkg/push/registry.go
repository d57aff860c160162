package push

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Sink is one subscriber's outbound frame writer. *Conn implements it over
// a WebSocket; tests substitute in-memory fakes.
type Sink interface {
	Send(data []byte) error
}

// Summary reports one publish's delivery outcome. A publish with zero
// subscribers is still a success: the event sits in the backlog for drains.
type Summary struct {
	Attempted int
	Sent      int
	Failed    int
}

// Subscriber is one socket's interest in one request.
type Subscriber struct {
	ID          string // connection id
	SessionHash string
	Channel     string
	Sink        Sink

	mu      sync.Mutex
	lastAck uint64 // guarded by mu
}

type entryKey struct {
	channel   string
	requestID string
}

// entry is the per-(channel, requestId) state: the backlog ring, the active
// subscriber set, and the closed flag set by the terminal event.
type entry struct {
	mu      sync.Mutex
	backlog *backlog
	subs    map[string]*Subscriber
	closed  bool
}

// Registry tracks active and pending subscriptions.
//
// A subscribe that arrives before the job record exists cannot be
// ownership-checked yet; it parks in the pending bucket until the job is
// created and ActivatePending migrates the eligible entries.
type Registry struct {
	log             *slog.Logger
	backlogCapacity int

	mu      sync.Mutex
	entries map[entryKey]*entry
	pending map[string][]*Subscriber // requestId → parked subscribers
}

// NewRegistry creates a registry. backlogCapacity is the per-request event
// ring size.
func NewRegistry(log *slog.Logger, backlogCapacity int) *Registry {
	return &Registry{
		log:             log.With("component", "push_registry"),
		backlogCapacity: backlogCapacity,
		entries:         make(map[entryKey]*entry),
		pending:         make(map[string][]*Subscriber),
	}
}

func (r *Registry) entryFor(channel, requestID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey{channel: channel, requestID: requestID}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{
			backlog: newBacklog(r.backlogCapacity),
			subs:    make(map[string]*Subscriber),
		}
		r.entries[key] = e
	}
	return e
}

// Activate registers a subscriber for a request and drains the backlog to
// it before it sees live events. On a closed entry the backlog is drained
// once and the subscriber is not retained.
//
// The drain runs under the entry lock so that events published concurrently
// cannot interleave with replayed ones; live fan-out (Publish) stays
// lock-free during sends.
func (r *Registry) Activate(sub *Subscriber, requestID string) {
	e := r.entryFor(sub.Channel, requestID)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub.mu.Lock()
	after := sub.lastAck
	sub.mu.Unlock()

	missed := e.backlog.since(after)
	for _, evt := range missed {
		if err := r.send(sub, evt); err != nil {
			r.log.Warn("backlog drain send failed",
				"request_id", requestID, "connection_id", sub.ID, "error", err)
			return
		}
	}

	if e.closed {
		return
	}
	e.subs[sub.ID] = sub
}

// AddPending parks a subscriber whose job record does not exist yet.
func (r *Registry) AddPending(sub *Subscriber, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[requestID] = append(r.pending[requestID], sub)
}

// ActivatePending migrates parked subscribers for a freshly created job.
// ownerSession is the job's owner; an empty owner means the job is
// anonymous and every parked subscriber is eligible. Ineligible
// subscribers are dropped with an error frame.
func (r *Registry) ActivatePending(requestID, ownerSession string) {
	r.mu.Lock()
	parked := r.pending[requestID]
	delete(r.pending, requestID)
	r.mu.Unlock()

	for _, sub := range parked {
		if ownerSession != "" && sub.SessionHash != ownerSession {
			r.log.Warn("pending subscription rejected: session mismatch",
				"request_id", requestID, "connection_id", sub.ID)
			r.sendError(sub, requestID, "SUBSCRIPTION_DENIED", "subscription denied")
			continue
		}
		r.Activate(sub, requestID)
	}
}

// Publish appends the event to the request's backlog and fans it out to
// active subscribers. Sends happen outside the entry lock (copy-then-send)
// so a slow socket cannot stall publishes. Terminal events close the entry;
// anything published after that is dropped so the terminal event stays the
// last event a subscriber can ever see for the request.
func (r *Registry) Publish(channel, requestID string, evt *Event) Summary {
	e := r.entryFor(channel, requestID)

	e.mu.Lock()
	if e.closed {
		last := e.backlog.lastCursor()
		e.mu.Unlock()
		r.log.Debug("event after terminal dropped",
			"request_id", requestID, "event_type", evt.Type, "last_cursor", last)
		return Summary{}
	}
	e.backlog.append(evt)
	targets := make([]*Subscriber, 0, len(e.subs))
	for _, sub := range e.subs {
		targets = append(targets, sub)
	}
	if evt.Terminal() {
		e.closed = true
		e.subs = make(map[string]*Subscriber)
	}
	e.mu.Unlock()

	summary := Summary{Attempted: len(targets)}
	for _, sub := range targets {
		if err := r.send(sub, evt); err != nil {
			summary.Failed++
			r.log.Warn("event send failed",
				"request_id", requestID, "connection_id", sub.ID,
				"event_type", evt.Type, "error", err)
			continue
		}
		summary.Sent++
	}
	return summary
}

// Unsubscribe removes one subscription. Missing entries are a no-op.
func (r *Registry) Unsubscribe(channel, requestID, subscriberID string) {
	r.mu.Lock()
	e, ok := r.entries[entryKey{channel: channel, requestID: requestID}]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.subs, subscriberID)
	e.mu.Unlock()
}

// DropConnection removes a closed connection from every active entry and
// the pending bucket.
func (r *Registry) DropConnection(subscriberID string) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	for requestID, parked := range r.pending {
		kept := parked[:0]
		for _, sub := range parked {
			if sub.ID != subscriberID {
				kept = append(kept, sub)
			}
		}
		if len(kept) == 0 {
			delete(r.pending, requestID)
		} else {
			r.pending[requestID] = kept
		}
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		delete(e.subs, subscriberID)
		e.mu.Unlock()
	}
}

// subscriberCount is used by tests to poll instead of sleeping.
func (r *Registry) subscriberCount(channel, requestID string) int {
	r.mu.Lock()
	e, ok := r.entries[entryKey{channel: channel, requestID: requestID}]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (r *Registry) pendingCount(requestID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[requestID])
}

// send delivers one event to a subscriber. The subscriber lock serializes
// sends and the cursor check drops events arriving late from a concurrent
// publisher, so each subscriber observes cursors in increasing order.
// Cursor-zero events are uncursored control frames and always go out.
func (r *Registry) send(sub *Subscriber, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if evt.Cursor != 0 && evt.Cursor <= sub.lastAck {
		return nil
	}
	if err := sub.Sink.Send(data); err != nil {
		return err
	}
	if evt.Cursor > sub.lastAck {
		sub.lastAck = evt.Cursor
	}
	return nil
}

func (r *Registry) sendError(sub *Subscriber, requestID, code, message string) {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	evt := newEvent(EventTypeError, requestID, payload)
	if err := r.send(sub, evt); err != nil {
		r.log.Warn("error frame send failed",
			"request_id", requestID, "connection_id", sub.ID, "error", err)
	}
}
