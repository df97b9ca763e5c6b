// Package service coordinates the job lifecycle. The central concern is the
// claim path: under concurrent claims exactly one caller wins, and the
// decision is made by a single conditional write in the store, never by a
// read-then-write in this layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brianmurray333/ganamos-sub006/internal/groups"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/events"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/metrics"
	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

const maxTitleLen = 200

// Store is the persistence surface the coordinator relies on. Claim,
// TransitionForClaimant and CancelIfOpen are conditional writes: they return
// false without error when the precondition no longer holds.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Claim(ctx context.Context, id uuid.UUID, claimantRef string, at time.Time) (bool, error)
	TransitionForClaimant(ctx context.Context, id uuid.UUID, claimantRef string, from []models.State, to models.State, at time.Time) (bool, error)
	CloseIfOpen(ctx context.Context, id uuid.UUID, ownerRef string, to models.State) (bool, error)
}

// Coordinator owns job lifecycle decisions.
type Coordinator struct {
	store   Store
	members groups.Store
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the coordinator's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires the claim coordinator. members may be nil when no
// jobs restrict claiming by group; metrics may be nil in tests.
func NewCoordinator(store Store, members groups.Store, emitter events.Emitter, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		members: members,
		emitter: emitter,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("jobs"),
		now:     time.Now,
	}
	if c.emitter == nil {
		c.emitter = events.NoopEmitter{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates and persists a new open job.
func (c *Coordinator) Create(ctx context.Context, cmd models.CreateJobCommand) (*models.Job, error) {
	ctx, span := c.tracer.Start(ctx, "jobs.Create")
	defer span.End()

	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "title must not be empty")
	}
	if len(title) > maxTitleLen {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	if cmd.RewardSats < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reward must not be negative")
	}
	if cmd.OwnerRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "owner reference must not be empty")
	}

	job := &models.Job{
		ID:            uuid.New(),
		Title:         title,
		Description:   strings.TrimSpace(cmd.Description),
		RewardSats:    cmd.RewardSats,
		State:         models.StateOpen,
		OwnerRef:      cmd.OwnerRef,
		RequiredGroup: cmd.RequiredGroup,
		FundingHash:   cmd.FundingHash,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.store.Create(ctx, job); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create job")
	}

	span.SetAttributes(attribute.String("job.id", job.ID.String()))
	if c.logger != nil {
		c.logger.Info("job created",
			"job_id", job.ID,
			"reward_sats", job.RewardSats,
			"owner_ref", job.OwnerRef,
		)
	}
	return job, nil
}

// Get retrieves a job by id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := c.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load job")
	}
	return job, nil
}

// Claim attempts to assign the job to claimantRef. The snapshot read exists
// only to produce a precise rejection reason; the authoritative decision is
// the store's compare-and-swap. Losing the swap after a clean snapshot means
// another claimant won in between.
func (c *Coordinator) Claim(ctx context.Context, id uuid.UUID, claimantRef string) (*models.Job, error) {
	ctx, span := c.tracer.Start(ctx, "jobs.Claim",
		trace.WithAttributes(attribute.String("job.id", id.String())),
	)
	defer span.End()

	if c.metrics != nil {
		c.metrics.ClaimsAttempted.Inc()
	}
	if claimantRef == "" {
		return nil, c.rejectClaim(dErrors.New(dErrors.CodeInvalidInput, "claimant reference must not be empty"))
	}

	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, c.rejectClaim(err)
	}

	if reject := rejectionFor(job); reject != nil {
		// A repeat claim by the current holder is answered with the job it
		// already holds; the event dedupe absorbs the re-emission.
		if dErrors.HasCode(reject, dErrors.CodeAlreadyClaimed) && job.ClaimantRef == claimantRef {
			c.emitClaimed(ctx, job)
			if c.metrics != nil {
				c.metrics.IncClaim("ok_repeat")
			}
			return job, nil
		}
		return nil, c.rejectClaim(reject)
	}

	if job.RequiredGroup != "" {
		if c.members == nil {
			return nil, c.rejectClaim(dErrors.New(dErrors.CodeForbidden, "job restricted to group members"))
		}
		approved, err := c.members.IsApprovedMember(ctx, job.RequiredGroup, claimantRef)
		if err != nil {
			return nil, c.rejectClaim(dErrors.Wrap(err, dErrors.CodeInternal, "check group membership"))
		}
		if !approved {
			return nil, c.rejectClaim(dErrors.New(dErrors.CodeForbidden, "claimant is not an approved member of the required group"))
		}
	}

	won, err := c.store.Claim(ctx, id, claimantRef, c.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, c.rejectClaim(dErrors.New(dErrors.CodeNotFound, "job not found"))
		}
		return nil, c.rejectClaim(dErrors.Wrap(err, dErrors.CodeInternal, "claim job"))
	}
	if !won {
		if c.metrics != nil {
			c.metrics.ClaimCASConflicts.Inc()
		}
		return nil, c.rejectClaim(dErrors.New(dErrors.CodeAlreadyClaimed, "job was claimed by someone else"))
	}

	claimed, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.emitClaimed(ctx, claimed)
	if c.metrics != nil {
		c.metrics.IncClaim("ok")
	}
	if c.logger != nil {
		c.logger.Info("job claimed",
			"job_id", claimed.ID,
			"claimant_ref", claimed.ClaimantRef,
		)
	}
	return claimed, nil
}

// MarkUnderReview moves a claimed job into review. Only the current
// claimant may do this.
func (c *Coordinator) MarkUnderReview(ctx context.Context, id uuid.UUID, claimantRef string) (*models.Job, error) {
	return c.transition(ctx, id, claimantRef, []models.State{models.StateClaimed}, models.StateUnderReview)
}

// Complete finishes a job held by claimantRef, from either the claimed or
// under-review state.
func (c *Coordinator) Complete(ctx context.Context, id uuid.UUID, claimantRef string) (*models.Job, error) {
	return c.transition(ctx, id, claimantRef, []models.State{models.StateClaimed, models.StateUnderReview}, models.StateCompleted)
}

// Cancel abandons an open, unclaimed job. Only the owner may cancel, and
// only before anyone claims it.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, ownerRef string) (*models.Job, error) {
	return c.close(ctx, id, ownerRef, models.StateCancelled)
}

// Delete removes an open, unclaimed job from circulation. Deletion is a
// soft terminal state so later claim attempts get a precise rejection
// instead of a 404.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID, ownerRef string) (*models.Job, error) {
	return c.close(ctx, id, ownerRef, models.StateDeleted)
}

func (c *Coordinator) close(ctx context.Context, id uuid.UUID, ownerRef string, to models.State) (*models.Job, error) {
	ctx, span := c.tracer.Start(ctx, "jobs.Close",
		trace.WithAttributes(attribute.String("job.state.to", string(to))),
	)
	defer span.End()

	done, err := c.store.CloseIfOpen(ctx, id, ownerRef, to)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "close job")
	}
	if done {
		return c.Get(ctx, id)
	}

	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerRef != ownerRef {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the owner may close a job")
	}
	if reject := terminalRejection(job.State); reject != nil {
		return nil, reject
	}
	return nil, dErrors.New(dErrors.CodeAlreadyClaimed, "job is already claimed and can no longer be closed")
}

func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, claimantRef string, from []models.State, to models.State) (*models.Job, error) {
	ctx, span := c.tracer.Start(ctx, "jobs.Transition",
		trace.WithAttributes(attribute.String("job.state.to", string(to))),
	)
	defer span.End()

	moved, err := c.store.TransitionForClaimant(ctx, id, claimantRef, from, to, c.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transition job")
	}
	if moved {
		return c.Get(ctx, id)
	}

	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reject := terminalRejection(job.State); reject != nil {
		return nil, reject
	}
	if job.ClaimantRef != claimantRef {
		return nil, dErrors.New(dErrors.CodeForbidden, "job is held by a different claimant")
	}
	return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("job cannot move from %s to %s", job.State, to))
}

// emitClaimed publishes the claim event best-effort. The claim has already
// committed; a delivery failure is logged and counted, never rolled back.
func (c *Coordinator) emitClaimed(ctx context.Context, job *models.Job) {
	event := events.ClaimEventFor(job)
	if err := c.emitter.EmitClaimed(ctx, event); err != nil {
		if c.logger != nil {
			c.logger.Error("claim event emission failed",
				"job_id", job.ID,
				"claimant_ref", job.ClaimantRef,
				"error", err,
			)
		}
		return
	}
	if c.metrics != nil {
		c.metrics.ClaimEventsSent.Inc()
	}
}

func (c *Coordinator) rejectClaim(err error) error {
	if c.metrics != nil {
		c.metrics.IncClaim(string(dErrors.CodeOf(err)))
	}
	return err
}

// rejectionFor maps a job snapshot to the claim rejection a caller should
// see, or nil when the job looks claimable.
func rejectionFor(job *models.Job) error {
	if reject := terminalRejection(job.State); reject != nil {
		return reject
	}
	if job.State.Locked() || job.ClaimantRef != "" {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "job is already claimed")
	}
	return nil
}

func terminalRejection(state models.State) error {
	switch state {
	case models.StateCompleted:
		return dErrors.New(dErrors.CodeAlreadyCompleted, "job is already completed")
	case models.StateDeleted:
		return dErrors.New(dErrors.CodeJobDeleted, "job has been deleted")
	case models.StateCancelled:
		return dErrors.New(dErrors.CodeJobCancelled, "job has been cancelled")
	default:
		return nil
	}
}
