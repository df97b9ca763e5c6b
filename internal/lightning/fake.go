package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
)

// FakeOracle is a deterministic in-memory settlement backend for tests and
// the demo environment. Settlement is driven explicitly via Settle or
// SettlePartial; nothing settles on its own.
type FakeOracle struct {
	mu       sync.Mutex
	invoices map[string]*fakeInvoice
	failing  bool
}

type fakeInvoice struct {
	amountSats int64
	preimage   []byte
	settled    bool
	paidSats   int64
}

// NewFakeOracle creates an empty fake settlement backend.
func NewFakeOracle() *FakeOracle {
	return &FakeOracle{invoices: make(map[string]*fakeInvoice)}
}

// CreateInvoice registers an invoice with a random preimage. The payment
// request is a synthetic reference, not a parseable BOLT 11 string.
func (f *FakeOracle) CreateInvoice(_ context.Context, amountSats int64, memo string) (Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return Invoice{}, sentinel.ErrUnavailable
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return Invoice{}, err
	}
	hash := sha256.Sum256(preimage)
	key := hex.EncodeToString(hash[:])

	f.invoices[key] = &fakeInvoice{
		amountSats: amountSats,
		preimage:   preimage,
	}
	return Invoice{
		PaymentRequest: fmt.Sprintf("fake:%s:%d:%s", key[:16], amountSats, memo),
		PaymentHash:    hash[:],
	}, nil
}

// LookupInvoice returns the settlement snapshot for a payment hash.
func (f *FakeOracle) LookupInvoice(_ context.Context, paymentHash []byte) (Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return Settlement{}, sentinel.ErrUnavailable
	}

	inv, ok := f.invoices[hex.EncodeToString(paymentHash)]
	if !ok {
		return Settlement{}, sentinel.ErrNotFound
	}
	return Settlement{Settled: inv.settled, AmountPaidSats: inv.paidSats}, nil
}

// Settle marks the invoice paid in full and returns its preimage, the secret
// a real payer would learn on settlement.
func (f *FakeOracle) Settle(paymentHash []byte) ([]byte, error) {
	return f.settle(paymentHash, -1)
}

// SettlePartial settles for an arbitrary amount, which may differ from the
// invoiced amount. Used to exercise amount-binding failures.
func (f *FakeOracle) SettlePartial(paymentHash []byte, amountSats int64) ([]byte, error) {
	return f.settle(paymentHash, amountSats)
}

func (f *FakeOracle) settle(paymentHash []byte, amountSats int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inv, ok := f.invoices[hex.EncodeToString(paymentHash)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	inv.settled = true
	if amountSats < 0 {
		inv.paidSats = inv.amountSats
	} else {
		inv.paidSats = amountSats
	}
	return inv.preimage, nil
}

// SetFailing toggles hard failure of all oracle calls, simulating an
// unreachable backend.
func (f *FakeOracle) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

var _ Oracle = (*FakeOracle)(nil)
