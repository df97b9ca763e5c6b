package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
)

// Postgres persists jobs in PostgreSQL. Every state transition is a single
// conditional UPDATE whose WHERE clause restates the precondition, so the
// row either moves atomically or the statement affects zero rows.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed job store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create inserts a new job.
func (s *Postgres) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, title, description, reward_sats, state, owner_ref, required_group, funding_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Title,
		job.Description,
		job.RewardSats,
		string(job.State),
		job.OwnerRef,
		nullable(job.RequiredGroup),
		hex.EncodeToString(job.FundingHash),
		job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job id must be unique: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// FindByID retrieves a job by id.
func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, title, description, reward_sats, state, owner_ref, claimant_ref, required_group, funding_hash, created_at, claimed_at, completed_at
		FROM jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	return job, nil
}

// Claim performs the exclusivity-critical compare-and-swap: the UPDATE
// commits only while the job is still open with no claimant. Concurrent
// callers race on the row lock; exactly one observes rows == 1.
func (s *Postgres) Claim(ctx context.Context, id uuid.UUID, claimantRef string, at time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET state = $2, claimant_ref = $3, claimed_at = $4
		WHERE id = $1 AND state = $5 AND claimant_ref IS NULL
	`
	res, err := s.db.ExecContext(ctx, query,
		id,
		string(models.StateClaimed),
		claimantRef,
		at,
		string(models.StateOpen),
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return oneRow(res)
}

// TransitionForClaimant moves the job between states while held by
// claimantRef, as one conditional write.
func (s *Postgres) TransitionForClaimant(ctx context.Context, id uuid.UUID, claimantRef string, from []models.State, to models.State, at time.Time) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	query := `
		UPDATE jobs
		SET state = $2,
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
		WHERE id = $1 AND claimant_ref = $4 AND state = ANY($5)
	`
	res, err := s.db.ExecContext(ctx, query, id, string(to), at, claimantRef, states)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	return oneRow(res)
}

// CloseIfOpen moves an open, unclaimed job owned by ownerRef to the given
// terminal state (cancelled or deleted).
func (s *Postgres) CloseIfOpen(ctx context.Context, id uuid.UUID, ownerRef string, to models.State) (bool, error) {
	query := `
		UPDATE jobs
		SET state = $2
		WHERE id = $1 AND state = $3 AND claimant_ref IS NULL AND owner_ref = $4
	`
	res, err := s.db.ExecContext(ctx, query, id, string(to), string(models.StateOpen), ownerRef)
	if err != nil {
		return false, fmt.Errorf("close job: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

type jobRow interface {
	Scan(dest ...any) error
}

func scanJob(row jobRow) (*models.Job, error) {
	var job models.Job
	var state string
	var claimant, group sql.NullString
	var fundingHex string
	var claimedAt, completedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.Title,
		&job.Description,
		&job.RewardSats,
		&state,
		&job.OwnerRef,
		&claimant,
		&group,
		&fundingHex,
		&job.CreatedAt,
		&claimedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	job.State = models.State(state)
	job.ClaimantRef = claimant.String
	job.RequiredGroup = group.String
	funding, err := hex.DecodeString(fundingHex)
	if err != nil {
		return nil, fmt.Errorf("decode funding hash: %w", err)
	}
	job.FundingHash = funding
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
