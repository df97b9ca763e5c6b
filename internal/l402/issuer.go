package l402

import (
	"context"
	"strconv"
	"time"

	"github.com/brianmurray333/ganamos-sub006/internal/lightning"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// Issuer mints payment challenges: one invoice plus one capability token per
// request, bound together by the invoice's settlement hash.
type Issuer struct {
	oracle   lightning.Oracle
	rootKey  []byte
	location string
	ttl      time.Duration
	now      func() time.Time
}

// IssuerOption configures the Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source, for tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates a challenge issuer. rootKey signs tokens; ttl bounds the
// token's expires caveat.
func NewIssuer(oracle lightning.Oracle, rootKey []byte, location string, ttl time.Duration, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		oracle:   oracle,
		rootKey:  rootKey,
		location: location,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates an invoice for amountSats and mints a token authorizing
// action once that invoice settles. Oracle failure surfaces as a typed
// oracle_unavailable error and is never retried here; retry policy belongs
// to the caller.
func (i *Issuer) Issue(ctx context.Context, amountSats int64, action string) (*Challenge, error) {
	if amountSats <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "challenge amount must be positive")
	}

	invoice, err := i.oracle.CreateInvoice(ctx, amountSats, "ganamos: "+action)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "could not create invoice")
	}

	token := macaroon.New(i.rootKey, invoice.PaymentHash, i.location)
	token.AddCaveat(macaroon.Caveat{Condition: CaveatAction, Value: action})
	token.AddCaveat(macaroon.Caveat{Condition: CaveatAmount, Value: strconv.FormatInt(amountSats, 10)})
	token.AddCaveat(macaroon.Caveat{Condition: CaveatExpires, Value: i.now().Add(i.ttl).UTC().Format(time.RFC3339)})

	return &Challenge{
		Token:          macaroon.Encode(token),
		PaymentRequest: invoice.PaymentRequest,
		AmountSats:     amountSats,
	}, nil
}
