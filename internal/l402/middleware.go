package l402

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brianmurray333/ganamos-sub006/internal/platform/metrics"
	"github.com/brianmurray333/ganamos-sub006/internal/transport/httputil"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

const authScheme = "L402"

// PriceFunc computes the action amount in sats for a request, before the
// platform fee. It may read the body; the middleware restores it for the
// wrapped handler.
type PriceFunc func(r *http.Request) (int64, error)

// FixedPrice prices every request at the same amount.
func FixedPrice(amountSats int64) PriceFunc {
	return func(*http.Request) (int64, error) {
		return amountSats, nil
	}
}

// Paywall gates handlers behind the L402 protocol: unauthenticated requests
// receive a 402 challenge, credentialed requests are verified and, on
// success, forwarded with the receipt in the request context.
type Paywall struct {
	issuer   *Issuer
	verifier *Verifier
	feeSats  int64
	currency string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPaywall creates the middleware. feeSats is added on top of the priced
// action amount; the challenge invoice covers the total.
func NewPaywall(issuer *Issuer, verifier *Verifier, feeSats int64, currency string, logger *slog.Logger, m *metrics.Metrics) *Paywall {
	return &Paywall{
		issuer:   issuer,
		verifier: verifier,
		feeSats:  feeSats,
		currency: currency,
		logger:   logger,
		metrics:  m,
	}
}

// challengeResponse is the 402 body. Amounts are in sats.
type challengeResponse struct {
	TotalAmount      int64  `json:"total_amount"`
	ActionAmount     int64  `json:"action_amount"`
	Fee              int64  `json:"fee"`
	Currency         string `json:"currency"`
	PayableReference string `json:"payable_reference"`
}

// Require wraps a handler with payment enforcement for the given action.
func (p *Paywall) Require(action string, price PriceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "could not read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			amount, err := price(r)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			total := amount + p.feeSats

			header := r.Header.Get("Authorization")
			if !hasL402Scheme(header) {
				p.issueChallenge(w, r, action, amount, total)
				return
			}
			rawToken, secretHex, ok := credentialFromHeader(header)
			if !ok {
				if p.metrics != nil {
					p.metrics.IncVerification(string(dErrors.CodeMalformedCredential))
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeMalformedCredential, "authorization header must be L402 <token>:<secret-hex>"))
				return
			}

			receipt, err := p.verifier.Verify(r.Context(), rawToken, secretHex, action, total)
			if err != nil {
				code := dErrors.CodeOf(err)
				if p.metrics != nil {
					p.metrics.IncVerification(string(code))
				}
				if code == dErrors.CodeOracleUnavailable {
					p.logger.Error("settlement check failed", "error", err, "action", action)
					if p.metrics != nil {
						p.metrics.OracleFailures.Inc()
					}
				} else {
					p.logger.Info("credential rejected", "reason", string(code), "action", action)
				}
				httputil.WriteError(w, err)
				return
			}

			if p.metrics != nil {
				p.metrics.IncVerification("ok")
			}
			next.ServeHTTP(w, r.WithContext(WithReceipt(r.Context(), receipt)))
		})
	}
}

func (p *Paywall) issueChallenge(w http.ResponseWriter, r *http.Request, action string, amount, total int64) {
	challenge, err := p.issuer.Issue(r.Context(), total, action)
	if err != nil {
		p.logger.Error("could not issue challenge", "error", err, "action", action)
		httputil.WriteError(w, err)
		return
	}
	if p.metrics != nil {
		p.metrics.ChallengesIssued.Inc()
	}

	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("%s token=%q, payable=%q", authScheme, challenge.Token, challenge.PaymentRequest))
	httputil.WriteJSON(w, http.StatusPaymentRequired, challengeResponse{
		TotalAmount:      total,
		ActionAmount:     amount,
		Fee:              p.feeSats,
		Currency:         p.currency,
		PayableReference: challenge.PaymentRequest,
	})
}

// hasL402Scheme reports whether the Authorization header uses the L402
// scheme at all. Requests without it get a fresh challenge rather than a
// rejection.
func hasL402Scheme(header string) bool {
	scheme, _, found := strings.Cut(header, " ")
	return found && strings.EqualFold(scheme, authScheme)
}

// credentialFromHeader parses "Authorization: L402 <token>:<secret-hex>".
func credentialFromHeader(header string) (token, secretHex string, ok bool) {
	_, rest, found := strings.Cut(header, " ")
	if !found {
		return "", "", false
	}
	token, secretHex, found = strings.Cut(strings.TrimSpace(rest), ":")
	if !found || token == "" {
		return "", "", false
	}
	return token, secretHex, true
}
