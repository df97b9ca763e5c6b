package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "l402:consumed:"

// Redis tracks consumed identifiers with per-key TTL, so retention equals
// the token TTL with no sweeper.
type Redis struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedis constructs a Redis-backed consumed-token store.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client, now: time.Now}
}

// Consume uses SET NX with expiry: the first caller sets the key, everyone
// else observes it already present.
func (s *Redis) Consume(ctx context.Context, identifier []byte, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if s.now != nil {
		ttl = expiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		// Token already past its expiry; treat as consumed so the record
		// never outlives its retention window.
		return false, nil
	}

	key := redisKeyPrefix + hex.EncodeToString(identifier)
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return ok, nil
}
