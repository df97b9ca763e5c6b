// Package store persists jobs. Both implementations expose the same
// conditional-write primitives so the claim coordinator never does
// read-then-write from application code.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
)

// InMemory stores jobs in memory for tests and the demo environment. One
// mutex guards every conditional write, making each an atomic
// compare-and-swap.
type InMemory struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

// NewInMemory creates an empty in-memory job store.
func NewInMemory() *InMemory {
	return &InMemory{jobs: make(map[uuid.UUID]*models.Job)}
}

// Create inserts a new job.
func (s *InMemory) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// FindByID retrieves a job snapshot by id.
func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// Claim atomically moves the job from open with no claimant to claimed by
// claimantRef. Returns false when the predicate no longer holds, which is
// how a losing racer observes the winner.
func (s *InMemory) Claim(_ context.Context, id uuid.UUID, claimantRef string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if job.State != models.StateOpen || job.ClaimantRef != "" {
		return false, nil
	}
	job.State = models.StateClaimed
	job.ClaimantRef = claimantRef
	claimedAt := at
	job.ClaimedAt = &claimedAt
	return true, nil
}

// TransitionForClaimant atomically moves the job from one of the given
// states to the target state, but only while held by claimantRef.
func (s *InMemory) TransitionForClaimant(_ context.Context, id uuid.UUID, claimantRef string, from []models.State, to models.State, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if job.ClaimantRef != claimantRef || !stateIn(job.State, from) {
		return false, nil
	}
	job.State = to
	if to == models.StateCompleted {
		completedAt := at
		job.CompletedAt = &completedAt
	}
	return true, nil
}

// CloseIfOpen atomically moves an open, unclaimed job owned by ownerRef to
// the given terminal state (cancelled or deleted).
func (s *InMemory) CloseIfOpen(_ context.Context, id uuid.UUID, ownerRef string, to models.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if job.State != models.StateOpen || job.ClaimantRef != "" || job.OwnerRef != ownerRef {
		return false, nil
	}
	job.State = to
	return true, nil
}

func stateIn(s models.State, states []models.State) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}
	return false
}
