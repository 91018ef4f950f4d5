// Package redisstore holds Redis-backed implementations of small keyed
// stores with bounded lifetimes.
package redisstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quanghm/orderflow/internal/domain/payment"
)

const sessionKeyPrefix = "payment:session:"

var _ payment.Sessions = (*Sessions)(nil)

// Sessions stores payment sessions in Redis. Expiry is delegated to the key
// TTL, so an expired session simply stops resolving.
type Sessions struct {
	client *redis.Client
}

// NewSessions creates a Sessions store on the given client.
func NewSessions(client *redis.Client) *Sessions {
	return &Sessions{client: client}
}

// Issue creates a session for the order and returns its opaque ID.
func (s *Sessions) Issue(ctx context.Context, orderID string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	if err := s.client.Set(ctx, sessionKeyPrefix+id, orderID, ttl).Err(); err != nil {
		return "", errors.Wrap(err, "store payment session")
	}
	return id, nil
}

// Resolve returns the order ID behind a session, or
// payment.ErrSessionNotFound when the session is unknown or expired.
func (s *Sessions) Resolve(ctx context.Context, sessionID string) (string, error) {
	orderID, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", payment.ErrSessionNotFound
		}
		return "", errors.Wrap(err, "load payment session")
	}
	return orderID, nil
}
