package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/brianmurray333/ganamos-sub006/internal/groups"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/store"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// recordingEmitter captures emitted claim events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.ClaimEvent
	fail   error
}

func (e *recordingEmitter) EmitClaimed(_ context.Context, event models.ClaimEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) emitted() []models.ClaimEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ClaimEvent, len(e.events))
	copy(out, e.events)
	return out
}

type fixture struct {
	coordinator *Coordinator
	store       *store.InMemory
	members     *groups.InMemory
	emitter     *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewInMemory()
	members := groups.NewInMemory()
	emitter := &recordingEmitter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		coordinator: NewCoordinator(s, members, emitter, log, nil),
		store:       s,
		members:     members,
		emitter:     emitter,
	}
}

func (f *fixture) createOpenJob(t *testing.T, reward int64) *models.Job {
	t.Helper()
	job, err := f.coordinator.Create(context.Background(), models.CreateJobCommand{
		Title:       "paint the shed",
		Description: "two coats",
		RewardSats:  reward,
		OwnerRef:    "owner-1",
		FundingHash: []byte("settled-invoice-hash"),
	})
	require.NoError(t, err)
	return job
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.Create(context.Background(), models.CreateJobCommand{
		Title: "  ", RewardSats: 100, OwnerRef: "owner-1",
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.coordinator.Create(context.Background(), models.CreateJobCommand{
		Title: "ok", RewardSats: -1, OwnerRef: "owner-1",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	assert.Contains(t, err.Error(), "negative")

	// Zero is a valid reward; only negatives are rejected.
	job, err := f.coordinator.Create(context.Background(), models.CreateJobCommand{
		Title: "volunteer work", RewardSats: 0, OwnerRef: "owner-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, job.State)
}

func TestClaimHappyPathEmitsEvent(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 1500)

	claimed, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateClaimed, claimed.State)
	assert.Equal(t, "alice", claimed.ClaimantRef)
	require.NotNil(t, claimed.ClaimedAt)

	events := f.emitter.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, job.ID, events[0].JobID)
	assert.Equal(t, "alice", events[0].ClaimantRef)
	assert.Equal(t, int64(1500), events[0].RewardSats)
	assert.NotEmpty(t, events[0].FundingHash)
}

func TestClaimExactlyOneWinnerUnderContention(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 1500)

	const racers = 24
	var wins, rejections atomic.Int32
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		claimant := uuid.NewString()
		g.Go(func() error {
			_, err := f.coordinator.Claim(context.Background(), job.ID, claimant)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyClaimed):
				rejections.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), rejections.Load())
	assert.Len(t, f.emitter.emitted(), 1)
}

func TestClaimTypedRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown job", func(t *testing.T) {
		_, err := f.coordinator.Claim(context.Background(), uuid.New(), "alice")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("already claimed by someone else", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
		require.NoError(t, err)

		_, err = f.coordinator.Claim(context.Background(), job.ID, "bob")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
	})

	t.Run("already completed", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
		require.NoError(t, err)
		_, err = f.coordinator.Complete(context.Background(), job.ID, "alice")
		require.NoError(t, err)

		_, err = f.coordinator.Claim(context.Background(), job.ID, "bob")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
	})

	t.Run("cancelled", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Cancel(context.Background(), job.ID, "owner-1")
		require.NoError(t, err)

		_, err = f.coordinator.Claim(context.Background(), job.ID, "bob")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeJobCancelled))
	})

	t.Run("deleted", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Delete(context.Background(), job.ID, "owner-1")
		require.NoError(t, err)

		_, err = f.coordinator.Claim(context.Background(), job.ID, "bob")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeJobDeleted))
	})

	t.Run("empty claimant", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Claim(context.Background(), job.ID, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestClaimRepeatByHolderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 100)

	first, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)

	second, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ClaimantRef, second.ClaimantRef)
	assert.Equal(t, first.State, second.State)
}

func TestClaimGroupRestriction(t *testing.T) {
	f := newFixture(t)
	job, err := f.coordinator.Create(context.Background(), models.CreateJobCommand{
		Title:         "members only",
		RewardSats:    200,
		OwnerRef:      "owner-1",
		RequiredGroup: "neighborhood-7",
		FundingHash:   []byte("hash"),
	})
	require.NoError(t, err)

	_, err = f.coordinator.Claim(context.Background(), job.ID, "outsider")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	// The rejected claim must not have touched the job.
	got, err := f.coordinator.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, got.State)
	assert.Empty(t, got.ClaimantRef)
	assert.Empty(t, f.emitter.emitted())

	f.members.Approve("neighborhood-7", "insider")
	claimed, err := f.coordinator.Claim(context.Background(), job.ID, "insider")
	require.NoError(t, err)
	assert.Equal(t, "insider", claimed.ClaimantRef)
}

func TestClaimSurvivesEmitterFailure(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 100)
	f.emitter.fail = errors.New("broker down")

	claimed, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateClaimed, claimed.State)

	// The claim committed even though nothing was delivered downstream.
	got, err := f.coordinator.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ClaimantRef)
	assert.Empty(t, f.emitter.emitted())
}

func TestCompleteOnlyByHolder(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 100)
	_, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)

	_, err = f.coordinator.Complete(context.Background(), job.ID, "bob")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	done, err := f.coordinator.Complete(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, done.State)
	require.NotNil(t, done.CompletedAt)

	_, err = f.coordinator.Complete(context.Background(), job.ID, "alice")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
}

func TestCompleteFromUnderReview(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 100)
	_, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
	require.NoError(t, err)

	reviewed, err := f.coordinator.MarkUnderReview(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateUnderReview, reviewed.State)

	done, err := f.coordinator.Complete(context.Background(), job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, done.State)
}

func TestCompleteRequiresClaim(t *testing.T) {
	f := newFixture(t)
	job := f.createOpenJob(t, 100)

	_, err := f.coordinator.Complete(context.Background(), job.ID, "alice")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)

	t.Run("owner cancels open job", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		cancelled, err := f.coordinator.Cancel(context.Background(), job.ID, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, models.StateCancelled, cancelled.State)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Cancel(context.Background(), job.ID, "stranger")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("claimed job cannot be cancelled", func(t *testing.T) {
		job := f.createOpenJob(t, 100)
		_, err := f.coordinator.Claim(context.Background(), job.ID, "alice")
		require.NoError(t, err)

		_, err = f.coordinator.Cancel(context.Background(), job.ID, "owner-1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
	})
}
