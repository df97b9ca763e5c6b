package l402

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/brianmurray333/ganamos-sub006/internal/lightning"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// Verifier is the protocol gate: a pure decision function over a submitted
// credential and one snapshot of oracle state. It performs no retries or
// backoff, and checks run in a fixed order, short-circuiting on the first
// failure so each rejection carries a distinct reason code.
type Verifier struct {
	rootKey  []byte
	oracle   lightning.Oracle
	consumed ConsumedStore
	ttl      time.Duration
	tracer   trace.Tracer
	now      func() time.Time
}

// VerifierOption configures the Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source, for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a credential verifier. consumed provides replay
// prevention keyed by token identifier; ttl bounds how long consumed records
// must be retained.
func NewVerifier(rootKey []byte, oracle lightning.Oracle, consumed ConsumedStore, ttl time.Duration, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		rootKey:  rootKey,
		oracle:   oracle,
		consumed: consumed,
		ttl:      ttl,
		tracer:   otel.Tracer("l402"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks a token+secret credential against the expected action and
// amount and returns a receipt on success. Every failure is a domain error
// with one of the protocol reason codes; settlement backend failures carry
// oracle_unavailable instead so callers can distinguish transient
// infrastructure trouble from client-correctable rejections.
func (v *Verifier) Verify(ctx context.Context, rawToken, secretHex, expectedAction string, expectedAmountSats int64) (*Receipt, error) {
	ctx, span := v.tracer.Start(ctx, "l402.Verify")
	defer span.End()

	token, err := macaroon.Decode(rawToken)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedCredential, "could not decode token")
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedCredential, "secret is not valid hex")
	}

	if !token.Verify(v.rootKey) {
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "token signature mismatch")
	}

	if raw, ok := token.CaveatValue(CaveatExpires); ok {
		expires, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeMalformedCredential, "unparseable expires caveat")
		}
		if v.now().After(expires) {
			return nil, dErrors.New(dErrors.CodeExpired,
				fmt.Sprintf("token expired at %s", expires.Format(time.RFC3339)))
		}
	}

	// The secret is the payment preimage; hashing it must reproduce the
	// settlement hash the token was minted for.
	hash := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(hash[:], token.Identifier) != 1 {
		return nil, dErrors.New(dErrors.CodeSecretMismatch, "secret does not match token identifier")
	}

	settlement, err := v.oracle.LookupInvoice(ctx, token.Identifier)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "could not check settlement")
	}
	if !settlement.Settled {
		return nil, dErrors.New(dErrors.CodeNotPaid, "invoice not settled")
	}

	// Expected vs. actual must both appear in the message so a payer who
	// settled the wrong amount can correct the retry.
	if _, ok := token.CaveatValue(CaveatAmount); ok {
		if settlement.AmountPaidSats != expectedAmountSats {
			return nil, dErrors.New(dErrors.CodeAmountMismatch,
				fmt.Sprintf("expected payment of %d sats, got %d sats", expectedAmountSats, settlement.AmountPaidSats))
		}
	}

	if action, ok := token.CaveatValue(CaveatAction); ok && action != expectedAction {
		return nil, dErrors.New(dErrors.CodeWrongAction,
			fmt.Sprintf("token authorizes %q, not %q", action, expectedAction))
	}

	// Consume last: only otherwise-valid credentials burn their identifier.
	retainUntil := v.retentionDeadline(token)
	inserted, err := v.consumed.Consume(ctx, token.Identifier, retainUntil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not record consumed token")
	}
	if !inserted {
		return nil, dErrors.New(dErrors.CodeAlreadyConsumed, "credential already used")
	}

	return &Receipt{
		Identifier:     token.Identifier,
		AmountPaidSats: settlement.AmountPaidSats,
	}, nil
}

// retentionDeadline bounds how long the replay record must exist: until the
// token itself expires, after which the expiry check rejects it anyway.
func (v *Verifier) retentionDeadline(token *macaroon.Macaroon) time.Time {
	if raw, ok := token.CaveatValue(CaveatExpires); ok {
		if expires, err := time.Parse(time.RFC3339, raw); err == nil {
			return expires
		}
	}
	return v.now().Add(v.ttl)
}

// ParseAmountCaveat parses the amount caveat of a decoded token. Exposed for
// callers that need the bound amount before settlement, such as pricing
// display.
func ParseAmountCaveat(token *macaroon.Macaroon) (int64, bool) {
	raw, ok := token.CaveatValue(CaveatAmount)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
