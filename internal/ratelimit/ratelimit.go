// Package ratelimit throttles claim attempts per caller using fixed
// windows.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/brianmurray333/ganamos-sub006/internal/platform/middleware"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/redis"
	"github.com/brianmurray333/ganamos-sub006/internal/transport/httputil"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// BucketStore counts events per key within a fixed window. Allow reports
// whether the event is within the limit and how long until the window
// resets.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

type bucket struct {
	count   int
	resetAt time.Time
}

// InMemory is a per-process bucket store.
type InMemory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemory creates an empty in-memory bucket store.
func NewInMemory() *InMemory {
	return &InMemory{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements BucketStore. Expired buckets are purged
// opportunistically so idle keys do not accumulate.
func (s *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, b := range s.buckets {
		if !now.Before(b.resetAt) {
			delete(s.buckets, k)
		}
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{resetAt: now.Add(window)}
		s.buckets[key] = b
	}
	b.count++
	if b.count > limit {
		return false, b.resetAt.Sub(now), nil
	}
	return true, 0, nil
}

// Redis is a bucket store shared across instances, backed by INCR with a
// window-long expiry on the counter key.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed bucket store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Allow implements BucketStore.
func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	redisKey := "ratelimit:" + key

	var count *goredis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if count.Val() <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// Limiter is the HTTP middleware wrapper around a bucket store.
type Limiter struct {
	store  BucketStore
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewLimiter builds a limiter allowing limit events per window per key.
func NewLimiter(store BucketStore, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Middleware throttles by client IP. When the store itself fails the
// request is allowed through; throttling is protection, not a gate the
// backend may close by breaking.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := middleware.GetClientIP(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, retryAfter, err := l.store.Allow(r.Context(), key, l.limit, l.window)
		if err != nil {
			if l.logger != nil {
				l.logger.Warn("rate limit check failed", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many claim attempts, slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

var (
	_ BucketStore = (*InMemory)(nil)
	_ BucketStore = (*Redis)(nil)
)
