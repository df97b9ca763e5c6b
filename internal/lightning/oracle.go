// Package lightning adapts an external Lightning payment backend behind a
// narrow settlement oracle interface. It is the only package allowed to
// perform network I/O to the payment backend; everything else depends on the
// Oracle interface so the protocol is testable with a deterministic fake.
package lightning

//go:generate mockgen -source=oracle.go -destination=mocks/mocks.go -package=mocks Oracle

import (
	"context"
)

// Invoice is a payable created on the backend. PaymentHash is the settlement
// hash: the invoice settles when its preimage is revealed, and
// sha256(preimage) == PaymentHash.
type Invoice struct {
	// PaymentRequest is the externally payable reference (BOLT 11 string).
	PaymentRequest string
	PaymentHash    []byte
}

// Settlement is one snapshot of an invoice's settlement state.
type Settlement struct {
	Settled        bool
	AmountPaidSats int64
}

// Oracle creates payables and answers settlement queries. Implementations
// must honor context cancellation; callers decide retry policy.
type Oracle interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error)
	LookupInvoice(ctx context.Context, paymentHash []byte) (Settlement, error)
}
