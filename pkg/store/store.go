// Package store persists job records and socket tickets in Redis. Keys:
//
//	job:{requestId}    → JobRecord JSON, TTL ≥ 24h
//	jobfp:{fingerprint} → requestId, TTL ≥ 24h
//	ticket:{ticketId}  → ticket JSON, TTL 60s
//
// Non-terminal writes are best-effort: callers log and continue on failure.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tablescout/tablescout/pkg/config"
)

// Sentinel errors.
var (
	ErrNotFound             = errors.New("record not found")
	ErrAlreadyExists        = errors.New("record already exists")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNonMonotonicProgress = errors.New("progress must not decrease")
	ErrTicketInvalid        = errors.New("ticket invalid or already redeemed")
)

// Connect opens a Redis client from the configured URL. The connection is
// lazy; call Ping to verify reachability.
func Connect(cfg *config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping verifies the store answers within the given timeout.
func Ping(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rdb.Ping(pingCtx).Err()
}
