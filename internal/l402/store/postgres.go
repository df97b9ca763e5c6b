package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Postgres persists consumed identifiers durably. The conditional insert is
// the atomicity point: exactly one caller per identifier observes a row
// count of one.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consumed-token store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Consume inserts the identifier with ON CONFLICT DO NOTHING; a zero row
// count means another request consumed it first.
func (s *Postgres) Consume(ctx context.Context, identifier []byte, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO consumed_tokens (identifier, expires_at, consumed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identifier) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, hex.EncodeToString(identifier), expiresAt)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume token rows: %w", err)
	}
	return rows == 1, nil
}

// PurgeExpired removes replay records past their retention window. Intended
// for a periodic background sweep.
func (s *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consumed_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("purge consumed tokens: %w", err)
	}
	return res.RowsAffected()
}
