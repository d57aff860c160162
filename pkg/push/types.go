// Package push delivers real-time search events to WebSocket subscribers.
//
// Events for a request are buffered in a per-request backlog ring, so a
// subscriber that connects late (or reconnects) first receives a drain of
// everything it missed, then live events, in publish order. Delivery is
// at-least-once; clients dedupe on event_id.
//
// The publisher is hard-isolated from the pipeline: it never returns an
// error, only a delivery summary. A failed or absent socket must never slow
// down or fail a search.
package push

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the socket envelope version. Frames with any other
// version are rejected as legacy.
const ProtocolVersion = 1

// ChannelSearch is the only channel currently defined.
const ChannelSearch = "search"

// Server→client event types. Clients must tolerate unknown types.
const (
	EventTypeProgress       = "progress"
	EventTypeAssistant      = "assistant"
	EventTypeStreamDelta    = "stream.delta"
	EventTypeStreamDone     = "stream.done"
	EventTypeRecommendation = "recommendation"
	EventTypeStatus         = "status"
	EventTypeError          = "error"
	EventTypeDone           = "done"
)

// Event is a server→client frame. Cursor is the event's position in the
// per-request backlog, assigned at enqueue time.
type Event struct {
	V         int             `json:"v"`
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	RequestID string          `json:"request_id"`
	Channel   string          `json:"channel"`
	Cursor    uint64          `json:"cursor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// Terminal reports whether the event ends the stream for its request.
// Terminal events are never coalesced and are the last events delivered.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventTypeDone, EventTypeError:
		return true
	}
	return false
}

// newEvent builds an event shell; the cursor is assigned by the backlog.
func newEvent(eventType, requestID string, payload json.RawMessage) *Event {
	return &Event{
		V:         ProtocolVersion,
		Type:      eventType,
		EventID:   uuid.NewString(),
		RequestID: requestID,
		Channel:   ChannelSearch,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ProgressPayload is the payload of progress events.
type ProgressPayload struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// AssistantPayload is the payload of assistant events.
type AssistantPayload struct {
	Kind         string `json:"kind"` // CLARIFY, SUMMARY, GATE_FAIL, NUDGE_REFINE
	Text         string `json:"text"`
	BlocksSearch bool   `json:"blocks_search"`
}

// StatusPayload is the payload of status events.
type StatusPayload struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// ErrorPayload is the payload of terminal error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DonePayload is the payload of terminal done events.
type DonePayload struct {
	Status        string `json:"status"`
	ReturnedCount int    `json:"returned_count"`
}

// ClientMessage is the envelope for client→server frames. Recognized types:
// subscribe, unsubscribe, ping, reveal_limit_reached.
type ClientMessage struct {
	V          int    `json:"v"`
	Type       string `json:"type"`
	Channel    string `json:"channel,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	UILanguage string `json:"ui_language,omitempty"`
}
