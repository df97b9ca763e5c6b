// Package store provides replay-prevention stores for consumed token
// identifiers. Records are retained until the token's own expiry, after
// which the verifier's expiry check makes the record redundant.
package store

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// InMemory tracks consumed identifiers in process memory, for tests and the
// demo environment.
type InMemory struct {
	mu       sync.Mutex
	consumed map[string]time.Time
	now      func() time.Time
}

// NewInMemory creates an empty in-memory consumed-token store.
func NewInMemory() *InMemory {
	return &InMemory{
		consumed: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Consume records the identifier if unseen. Expired records are purged
// opportunistically so retention stays bounded by the token TTL.
func (s *InMemory) Consume(_ context.Context, identifier []byte, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, exp := range s.consumed {
		if now.After(exp) {
			delete(s.consumed, key)
		}
	}

	key := hex.EncodeToString(identifier)
	if _, exists := s.consumed[key]; exists {
		return false, nil
	}
	s.consumed[key] = expiresAt
	return true, nil
}
