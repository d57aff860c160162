package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tablescout/tablescout/pkg/models"
)

// JobOwnerLookup resolves a request id to its owning session so a
// subscription can be ownership-checked before activation. Implemented by
// the job store wiring in the API layer.
type JobOwnerLookup interface {
	// LookupOwner returns (ownerSession, true) when the job exists. An
	// empty ownerSession marks the job anonymous.
	LookupOwner(ctx context.Context, requestID string) (string, bool, error)
}

// Conn is one authenticated WebSocket client. The session hash comes from
// the redeemed ticket at handshake time.
type Conn struct {
	ID          string
	SessionHash string

	ws           *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
}

// Send writes one frame with the configured write timeout. Safe for
// concurrent use; the underlying conn serializes writers.
func (c *Conn) Send(data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// NudgeComposer writes the refine nudge in the user's language. The
// pipeline's assistant model is the production implementation; a nil
// composer or a failed call falls back to a canned message.
type NudgeComposer interface {
	ComposeNudge(ctx context.Context, uiLanguage string) (string, error)
}

// Manager owns socket lifecycles: it parses client frames and routes them
// to the subscription registry.
type Manager struct {
	log          *slog.Logger
	registry     *Registry
	publisher    *Publisher
	jobs         JobOwnerLookup
	nudge        NudgeComposer
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewManager creates a socket manager.
func NewManager(log *slog.Logger, registry *Registry, publisher *Publisher, jobs JobOwnerLookup, nudge NudgeComposer, writeTimeout time.Duration) *Manager {
	return &Manager{
		log:          log.With("component", "push_manager"),
		registry:     registry,
		publisher:    publisher,
		jobs:         jobs,
		nudge:        nudge,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*Conn),
	}
}

// HandleConnection runs the read loop for one authenticated socket. Called
// by the WebSocket HTTP handler after the ticket handshake; blocks until
// the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, ws *websocket.Conn, sessionHash string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Conn{
		ID:           uuid.NewString(),
		SessionHash:  sessionHash,
		ws:           ws,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: m.writeTimeout,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendControl(c, map[string]any{
		"v":             ProtocolVersion,
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("malformed socket frame", "connection_id", c.ID, "error", err)
			m.sendControl(c, map[string]any{
				"v": ProtocolVersion, "type": "error", "message": "malformed frame",
			})
			continue
		}

		if msg.V != ProtocolVersion {
			// Legacy envelope: NACK and close.
			m.sendControl(c, map[string]any{
				"v": ProtocolVersion, "type": "error", "message": "unsupported protocol version",
			})
			_ = ws.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
			return
		}

		m.handleMessage(ctx, c, &msg)
	}
}

// ActiveConnections returns the count of open sockets.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll closes every open socket with a normal closure. Used at
// shutdown after in-flight pipelines have drained.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusNormalClosure, "server shutting down")
	}
}

func (m *Manager) handleMessage(ctx context.Context, c *Conn, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		m.handleSubscribe(ctx, c, msg)

	case "unsubscribe":
		if msg.Channel == "" || msg.RequestID == "" {
			m.sendControl(c, map[string]any{
				"v": ProtocolVersion, "type": "error",
				"message": "channel and request_id are required for unsubscribe",
			})
			return
		}
		m.registry.Unsubscribe(msg.Channel, msg.RequestID, c.ID)

	case "ping":
		m.sendControl(c, map[string]any{"v": ProtocolVersion, "type": "pong"})

	case "reveal_limit_reached":
		if msg.RequestID == "" {
			return
		}
		m.publisher.PublishAssistant(msg.RequestID,
			string(models.AssistantNudgeRefine), m.composeNudge(ctx, msg.UILanguage), false)

	default:
		m.sendControl(c, map[string]any{
			"v": ProtocolVersion, "type": "error",
			"message": "unknown message type: " + msg.Type,
		})
	}
}

// handleSubscribe routes a subscribe to active or pending. A subscribe for
// a job that exists is ownership-checked immediately; a subscribe for an
// unknown job parks until the job is created.
func (m *Manager) handleSubscribe(ctx context.Context, c *Conn, msg *ClientMessage) {
	if msg.Channel != ChannelSearch || msg.RequestID == "" {
		m.sendControl(c, map[string]any{
			"v": ProtocolVersion, "type": "error",
			"message": "subscribe requires channel \"search\" and a request_id",
		})
		return
	}

	sub := &Subscriber{
		ID:          c.ID,
		SessionHash: c.SessionHash,
		Channel:     msg.Channel,
		Sink:        c,
	}

	owner, found, err := m.jobs.LookupOwner(ctx, msg.RequestID)
	if err != nil {
		m.log.Warn("owner lookup failed", "request_id", msg.RequestID, "error", err)
		m.sendControl(c, map[string]any{
			"v": ProtocolVersion, "type": "subscription.error",
			"channel": msg.Channel, "request_id": msg.RequestID,
			"message": "subscription temporarily unavailable",
		})
		return
	}

	if found && owner != "" && owner != c.SessionHash {
		m.sendControl(c, map[string]any{
			"v": ProtocolVersion, "type": "subscription.error",
			"channel": msg.Channel, "request_id": msg.RequestID,
			"message": "subscription denied",
		})
		return
	}

	m.sendControl(c, map[string]any{
		"v": ProtocolVersion, "type": "subscription.confirmed",
		"channel": msg.Channel, "request_id": msg.RequestID,
	})

	if found {
		m.registry.Activate(sub, msg.RequestID)
	} else {
		m.registry.AddPending(sub, msg.RequestID)
	}
}

func (m *Manager) register(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID] = c
}

func (m *Manager) unregister(c *Conn) {
	m.registry.DropConnection(c.ID)

	m.mu.Lock()
	delete(m.conns, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendControl(c *Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Warn("control frame marshal failed", "connection_id", c.ID, "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		m.log.Warn("control frame send failed", "connection_id", c.ID, "error", err)
	}
}

// composeNudge asks the assistant model for the refine nudge, falling back
// to the canned localized text.
func (m *Manager) composeNudge(ctx context.Context, uiLanguage string) string {
	if m.nudge == nil {
		return nudgeText(uiLanguage)
	}
	text, err := m.nudge.ComposeNudge(ctx, uiLanguage)
	if err != nil {
		m.log.Warn("nudge composition failed, using canned text", "error", err)
		return nudgeText(uiLanguage)
	}
	return text
}

// nudgeText is the canned localized refine nudge used when no composer is
// wired or the model call fails.
func nudgeText(uiLanguage string) string {
	if uiLanguage == "he" {
		return "רוצים לראות עוד? נסו לדייק את החיפוש."
	}
	return "Want more options? Try refining your search."
}
