// Package events publishes claim notifications to downstream consumers.
package events

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/kafka/producer"
)

//go:generate mockgen -source=events.go -destination=mocks/mocks.go -package=mocks Emitter

// Emitter delivers a claim event exactly once per (job, funding hash) pair.
type Emitter interface {
	EmitClaimed(ctx context.Context, event models.ClaimEvent) error
}

// DedupeStore remembers which claim events have been sent. MarkSent returns
// true the first time a key is seen. Unmark releases a key so a failed send
// can be retried.
type DedupeStore interface {
	MarkSent(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
}

// EventKey builds the idempotency key for a claim event.
func EventKey(event models.ClaimEvent) string {
	return event.JobID.String() + ":" + event.FundingHash
}

type kafkaProducer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaEmitter publishes claim events to a Kafka topic, keyed by job id so
// events for the same job land on the same partition.
type KafkaEmitter struct {
	producer kafkaProducer
	dedupe   DedupeStore
	topic    string
	logger   *slog.Logger
}

// NewKafkaEmitter constructs an emitter writing to topic.
func NewKafkaEmitter(p kafkaProducer, dedupe DedupeStore, topic string, logger *slog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: p,
		dedupe:   dedupe,
		topic:    topic,
		logger:   logger,
	}
}

// EmitClaimed implements Emitter. A duplicate key is success, not an error;
// the claim already reached downstream consumers.
func (e *KafkaEmitter) EmitClaimed(ctx context.Context, event models.ClaimEvent) error {
	key := EventKey(event)
	first, err := e.dedupe.MarkSent(ctx, key)
	if err != nil {
		return fmt.Errorf("mark claim event: %w", err)
	}
	if !first {
		if e.logger != nil {
			e.logger.Debug("claim event already sent", "key", key)
		}
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode claim event: %w", err)
	}

	msg := &producer.Message{
		Topic: e.topic,
		Key:   []byte(event.JobID.String()),
		Value: payload,
		Headers: map[string]string{
			"content-type": "application/json",
			"event-type":   "job.claimed",
		},
	}
	if err := e.producer.Produce(ctx, msg); err != nil {
		if unmarkErr := e.dedupe.Unmark(ctx, key); unmarkErr != nil && e.logger != nil {
			e.logger.Warn("release claim event key failed", "key", key, "error", unmarkErr)
		}
		return fmt.Errorf("publish claim event: %w", err)
	}
	return nil
}

// NoopEmitter drops events. Used when no broker is configured.
type NoopEmitter struct{}

// EmitClaimed implements Emitter.
func (NoopEmitter) EmitClaimed(context.Context, models.ClaimEvent) error { return nil }

// InMemoryDedupe tracks sent keys in memory.
type InMemoryDedupe struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

// NewInMemoryDedupe creates an empty in-memory dedupe store.
func NewInMemoryDedupe() *InMemoryDedupe {
	return &InMemoryDedupe{sent: make(map[string]struct{})}
}

// MarkSent implements DedupeStore.
func (s *InMemoryDedupe) MarkSent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sent[key]; exists {
		return false, nil
	}
	s.sent[key] = struct{}{}
	return true, nil
}

// Unmark implements DedupeStore.
func (s *InMemoryDedupe) Unmark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sent, key)
	return nil
}

// PostgresDedupe tracks sent keys in the claim_events table, surviving
// restarts.
type PostgresDedupe struct {
	db *sql.DB
}

// NewPostgresDedupe constructs a PostgreSQL-backed dedupe store.
func NewPostgresDedupe(db *sql.DB) *PostgresDedupe {
	return &PostgresDedupe{db: db}
}

// MarkSent implements DedupeStore. The conditional insert makes the first
// caller the only one to see true.
func (s *PostgresDedupe) MarkSent(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO claim_events (event_key, sent_at)
		VALUES ($1, now())
		ON CONFLICT (event_key) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("mark claim event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// Unmark implements DedupeStore.
func (s *PostgresDedupe) Unmark(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM claim_events WHERE event_key = $1`, key); err != nil {
		return fmt.Errorf("release claim event key: %w", err)
	}
	return nil
}

// ClaimEventFor builds the event describing a committed claim.
func ClaimEventFor(job *models.Job) models.ClaimEvent {
	return models.ClaimEvent{
		JobID:       job.ID,
		ClaimantRef: job.ClaimantRef,
		RewardSats:  job.RewardSats,
		FundingHash: hex.EncodeToString(job.FundingHash),
		ClaimedAt:   derefTime(job.ClaimedAt),
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
