// Package handler exposes the job lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brianmurray333/ganamos-sub006/internal/jobs/models"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/service"
	"github.com/brianmurray333/ganamos-sub006/internal/l402"
	"github.com/brianmurray333/ganamos-sub006/internal/transport/httputil"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// Handler serves the jobs API.
type Handler struct {
	coordinator *service.Coordinator
	logger      *slog.Logger
}

// New creates a jobs HTTP handler.
func New(coordinator *service.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

// CreationPrice prices a job creation request at its reward, so the funding
// invoice covers the reward plus the platform fee. A request that does not
// parse is priced as invalid input rather than challenged.
func CreationPrice() l402.PriceFunc {
	return func(r *http.Request) (int64, error) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return 0, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body")
		}
		if req.RewardSats < 0 {
			return 0, dErrors.New(dErrors.CodeValidation, "reward_sats must not be negative")
		}
		return req.RewardSats, nil
	}
}

// jobResponse is the wire shape of a job.
type jobResponse struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	RewardSats    int64      `json:"reward_sats"`
	State         string     `json:"state"`
	OwnerRef      string     `json:"owner_ref"`
	ClaimantRef   string     `json:"claimant_ref,omitempty"`
	RequiredGroup string     `json:"required_group,omitempty"`
	FundingHash   string     `json:"funding_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(job *models.Job) jobResponse {
	return jobResponse{
		ID:            job.ID.String(),
		Title:         job.Title,
		Description:   job.Description,
		RewardSats:    job.RewardSats,
		State:         string(job.State),
		OwnerRef:      job.OwnerRef,
		ClaimantRef:   job.ClaimantRef,
		RequiredGroup: job.RequiredGroup,
		FundingHash:   hex.EncodeToString(job.FundingHash),
		CreatedAt:     job.CreatedAt,
		ClaimedAt:     job.ClaimedAt,
		CompletedAt:   job.CompletedAt,
	}
}

// Create handles POST /api/jobs. It runs behind the paywall, so a verified
// receipt is present in the context; its identifier becomes the job's
// funding hash.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	receipt := l402.ReceiptFromContext(r.Context())
	if receipt == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "payment receipt missing"))
		return
	}

	job, err := h.coordinator.Create(r.Context(), models.CreateJobCommand{
		Title:         req.Title,
		Description:   req.Description,
		RewardSats:    req.RewardSats,
		OwnerRef:      req.OwnerRef,
		RequiredGroup: req.RequiredGroup,
		FundingHash:   receipt.Identifier,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toJobResponse(job))
}

// Get handles GET /api/jobs/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	job, err := h.coordinator.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// Claim handles POST /api/jobs/{id}/claim.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req claimJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.coordinator.Claim(r.Context(), id, req.ClaimantRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// Review handles POST /api/jobs/{id}/review.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	h.claimantTransition(w, r, h.coordinator.MarkUnderReview)
}

// Complete handles POST /api/jobs/{id}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.claimantTransition(w, r, h.coordinator.Complete)
}

// Cancel handles POST /api/jobs/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req cancelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.coordinator.Cancel(r.Context(), id, req.OwnerRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// Delete handles DELETE /api/jobs/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req cancelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.coordinator.Delete(r.Context(), id, req.OwnerRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

type transitionFunc func(ctx context.Context, id uuid.UUID, claimantRef string) (*models.Job, error)

func (h *Handler) claimantTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := jobID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req claimJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := fn(r.Context(), id, req.ClaimantRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

func jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	return id, nil
}
