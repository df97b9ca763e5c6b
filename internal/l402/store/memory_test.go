package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeIsOncePerIdentifier(t *testing.T) {
	s := NewInMemory()
	id := []byte("payment-hash-1")
	expires := time.Now().Add(time.Hour)

	inserted, err := s.Consume(context.Background(), id, expires)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Consume(context.Background(), id, expires)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestConsumeDistinctIdentifiers(t *testing.T) {
	s := NewInMemory()
	expires := time.Now().Add(time.Hour)

	a, err := s.Consume(context.Background(), []byte("hash-a"), expires)
	require.NoError(t, err)
	b, err := s.Consume(context.Background(), []byte("hash-b"), expires)
	require.NoError(t, err)

	assert.True(t, a)
	assert.True(t, b)
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	s := NewInMemory()
	id := []byte("contended-hash")
	expires := time.Now().Add(time.Hour)

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			inserted, err := s.Consume(context.Background(), id, expires)
			if err == nil && inserted {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestExpiredRecordsArePurged(t *testing.T) {
	s := NewInMemory()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	id := []byte("short-lived")
	inserted, err := s.Consume(context.Background(), id, current.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, inserted)

	// Within the retention window the record blocks replays.
	inserted, err = s.Consume(context.Background(), id, current.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted)

	// Past the window the record is gone. The verifier's expiry check is
	// what rejects the stale token at that point.
	current = current.Add(2 * time.Minute)
	inserted, err = s.Consume(context.Background(), id, current.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, inserted)
}
