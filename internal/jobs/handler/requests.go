package handler

import (
	"strings"

	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

type createJobRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	RewardSats    int64  `json:"reward_sats"`
	OwnerRef      string `json:"owner_ref"`
	RequiredGroup string `json:"required_group,omitempty"`
}

func (r *createJobRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.OwnerRef = strings.TrimSpace(r.OwnerRef)
	r.RequiredGroup = strings.TrimSpace(r.RequiredGroup)
}

func (r *createJobRequest) Validate() error {
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if r.OwnerRef == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_ref is required")
	}
	if r.RewardSats < 0 {
		return dErrors.New(dErrors.CodeValidation, "reward_sats must not be negative")
	}
	return nil
}

type claimJobRequest struct {
	ClaimantRef string `json:"claimant_ref"`
}

func (r *claimJobRequest) Normalize() {
	r.ClaimantRef = strings.TrimSpace(r.ClaimantRef)
}

func (r *claimJobRequest) Validate() error {
	if r.ClaimantRef == "" {
		return dErrors.New(dErrors.CodeValidation, "claimant_ref is required")
	}
	return nil
}

type cancelJobRequest struct {
	OwnerRef string `json:"owner_ref"`
}

func (r *cancelJobRequest) Normalize() {
	r.OwnerRef = strings.TrimSpace(r.OwnerRef)
}

func (r *cancelJobRequest) Validate() error {
	if r.OwnerRef == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_ref is required")
	}
	return nil
}
