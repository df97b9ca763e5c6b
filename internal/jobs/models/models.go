// Package models holds the job domain types shared by stores, the claim
// coordinator, and the HTTP layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// State is a job lifecycle state.
type State string

const (
	StateOpen        State = "open"
	StateClaimed     State = "claimed"
	StateUnderReview State = "under_review"
	StateCompleted   State = "completed"
	StateDeleted     State = "deleted"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDeleted || s == StateCancelled
}

// Locked reports whether the state implies a claimant currently holds the
// job.
func (s State) Locked() bool {
	return s == StateClaimed || s == StateUnderReview
}

// Job is a rewarded task. Invariant: at most one non-terminal ClaimantRef
// exists at any time; StateCompleted is reachable only from a locked state
// held by that same claimant.
type Job struct {
	ID          uuid.UUID
	Title       string
	Description string
	RewardSats  int64
	State       State
	OwnerRef    string
	ClaimantRef string

	// RequiredGroup, when set, restricts claiming to approved members of
	// that group.
	RequiredGroup string

	// FundingHash is the settlement hash of the invoice that paid for this
	// job. It doubles as the idempotency key for the claim event.
	FundingHash []byte

	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// ClaimEvent is the downstream notification emitted when a claim commits.
// JobID plus FundingHash form the idempotency key.
type ClaimEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	ClaimantRef string    `json:"claimant_ref"`
	RewardSats  int64     `json:"reward_sats"`
	FundingHash string    `json:"funding_hash"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// CreateJobCommand carries validated input for job creation.
type CreateJobCommand struct {
	Title         string
	Description   string
	RewardSats    int64
	OwnerRef      string
	RequiredGroup string
	FundingHash   []byte
}
