// Package l402 implements the pay-to-call protocol: issuing payment
// challenges bound to Lightning invoices and verifying the resulting
// credentials at the HTTP boundary.
package l402

import (
	"context"
	"time"
)

// Caveat conditions interpreted by the verifier.
const (
	CaveatAction  = "action"
	CaveatAmount  = "amount"
	CaveatExpires = "expires"
)

// Challenge is returned to an unauthenticated caller: a serialized capability
// token plus the externally payable invoice whose settlement hash equals the
// token identifier.
type Challenge struct {
	Token          string
	PaymentRequest string
	AmountSats     int64
}

// Receipt is the proof of verified payment. It is the only artifact passed
// downstream of the protocol gate; raw credentials never leak past it.
type Receipt struct {
	// Identifier is the settlement hash of the paid invoice.
	Identifier     []byte
	AmountPaidSats int64
}

// ConsumedStore persists consumed token identifiers for replay prevention.
type ConsumedStore interface {
	// Consume records the identifier if it has not been consumed before.
	// It returns true exactly once per identifier (atomic conditional
	// insert); the record may be discarded after expiresAt.
	Consume(ctx context.Context, identifier []byte, expiresAt time.Time) (bool, error)
}

type receiptKey struct{}

// WithReceipt stores a verified receipt in the context.
func WithReceipt(ctx context.Context, r *Receipt) context.Context {
	return context.WithValue(ctx, receiptKey{}, r)
}

// ReceiptFromContext retrieves the verified receipt placed by the paywall
// middleware, or nil when the request did not pass the gate.
func ReceiptFromContext(ctx context.Context) *Receipt {
	if r, ok := ctx.Value(receiptKey{}).(*Receipt); ok {
		return r
	}
	return nil
}
