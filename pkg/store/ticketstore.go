package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ticket is a short-lived, single-use credential for opening a push socket.
// The session hash recorded at issue time decides which jobs the socket may
// subscribe to.
type Ticket struct {
	ID          string    `json:"id"`
	SessionHash string    `json:"sessionHash"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// TicketStore issues and redeems socket tickets.
type TicketStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewTicketStore(rdb *redis.Client, ttl time.Duration) *TicketStore {
	return &TicketStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func ticketKey(id string) string { return "ticket:" + id }

// Issue mints a ticket bound to sessionHash. The ticket expires after the
// store TTL whether or not it is redeemed.
func (s *TicketStore) Issue(ctx context.Context, sessionHash string) (*Ticket, error) {
	ticket := &Ticket{
		ID:          uuid.NewString(),
		SessionHash: sessionHash,
		IssuedAt:    s.now().UTC(),
	}
	data, err := json.Marshal(ticket)
	if err != nil {
		return nil, fmt.Errorf("marshaling ticket: %w", err)
	}
	if err := s.rdb.Set(ctx, ticketKey(ticket.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("writing ticket: %w", err)
	}
	return ticket, nil
}

// Redeem consumes a ticket. GETDEL makes redemption atomic: two concurrent
// handshakes with the same ticket cannot both succeed.
func (s *TicketStore) Redeem(ctx context.Context, id string) (*Ticket, error) {
	data, err := s.rdb.GetDel(ctx, ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTicketInvalid, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redeeming ticket: %w", err)
	}
	var ticket Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, fmt.Errorf("unmarshaling ticket: %w", err)
	}
	return &ticket, nil
}
