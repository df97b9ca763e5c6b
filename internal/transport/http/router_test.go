package http

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmurray333/ganamos-sub006/internal/groups"
	jobshandler "github.com/brianmurray333/ganamos-sub006/internal/jobs/handler"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/service"
	jobstore "github.com/brianmurray333/ganamos-sub006/internal/jobs/store"
	"github.com/brianmurray333/ganamos-sub006/internal/l402"
	l402store "github.com/brianmurray333/ganamos-sub006/internal/l402/store"
	"github.com/brianmurray333/ganamos-sub006/internal/lightning"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/health"
)

// newTestStack wires the full API the way main does, with in-memory stores
// and the fake settlement backend.
func newTestStack(t *testing.T) (http.Handler, *lightning.FakeOracle) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	oracle := lightning.NewFakeOracle()

	rootKey := macaroon.DeriveRootKey([]byte("test-master-secret"), "ganamos-test")
	issuer := l402.NewIssuer(oracle, rootKey, "ganamos-test", time.Hour)
	verifier := l402.NewVerifier(rootKey, oracle, l402store.NewInMemory(), time.Hour)
	paywall := l402.NewPaywall(issuer, verifier, 10, "BTC", log, nil)

	coordinator := service.NewCoordinator(jobstore.NewInMemory(), groups.NewInMemory(), nil, log, nil)

	router := NewRouter(Deps{
		Jobs:    jobshandler.New(coordinator, log),
		Paywall: paywall,
		Health:  health.New(),
		Logger:  log,
	})
	return router, oracle
}

func TestHealthAndMetricsMounted(t *testing.T) {
	router, _ := newTestStack(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCreateJobRequiresPaymentEndToEnd(t *testing.T) {
	router, oracle := newTestStack(t)
	payload := `{"title":"rake the leaves","reward_sats":990,"owner_ref":"owner-1"}`

	// First attempt: no credential, priced at reward plus the platform fee.
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	var challenge struct {
		TotalAmount      int64  `json:"total_amount"`
		ActionAmount     int64  `json:"action_amount"`
		Fee              int64  `json:"fee"`
		Currency         string `json:"currency"`
		PayableReference string `json:"payable_reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	assert.Equal(t, int64(1000), challenge.TotalAmount)
	assert.Equal(t, int64(990), challenge.ActionAmount)
	assert.Equal(t, int64(10), challenge.Fee)
	assert.NotEmpty(t, challenge.PayableReference)

	header := rec.Header().Get("WWW-Authenticate")
	const prefix = `L402 token="`
	require.True(t, strings.HasPrefix(header, prefix), "unexpected header %q", header)
	rawToken := header[len(prefix):]
	rawToken = rawToken[:strings.IndexByte(rawToken, '"')]

	// Pay the invoice out of band.
	token, err := macaroon.Decode(rawToken)
	require.NoError(t, err)
	preimage, err := oracle.Settle(token.Identifier)
	require.NoError(t, err)

	// Retry with the credential: the job is created and funded by the paid
	// invoice.
	req = httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "L402 "+rawToken+":"+hex.EncodeToString(preimage))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job struct {
		ID          string `json:"id"`
		State       string `json:"state"`
		FundingHash string `json:"funding_hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "open", job.State)
	assert.Equal(t, hex.EncodeToString(token.Identifier), job.FundingHash)

	// Replaying the same credential is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "L402 "+rawToken+":"+hex.EncodeToString(preimage))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_consumed")

	// The claim flow is open to anyone once the job exists.
	claim := strings.NewReader(`{"claimant_ref":"alice"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/claim", claim)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"state":"claimed"`)
}
