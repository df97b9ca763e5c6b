package l402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/brianmurray333/ganamos-sub006/internal/l402/store"
	"github.com/brianmurray333/ganamos-sub006/internal/lightning"
	"github.com/brianmurray333/ganamos-sub006/internal/lightning/mocks"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// paidCredential issues a challenge for amount, settles it in full, and
// returns the encoded token with the revealed preimage.
func paidCredential(t *testing.T, oracle *lightning.FakeOracle, rootKey []byte, amount int64, action string) (string, string) {
	t.Helper()
	issuer := NewIssuer(oracle, rootKey, testLocation, time.Hour)
	challenge, err := issuer.Issue(context.Background(), amount, action)
	require.NoError(t, err)

	token, err := macaroon.Decode(challenge.Token)
	require.NoError(t, err)
	preimage, err := oracle.Settle(token.Identifier)
	require.NoError(t, err)

	return challenge.Token, hex.EncodeToString(preimage)
}

func newTestVerifier(oracle lightning.Oracle) *Verifier {
	return NewVerifier(newTestRootKey(), oracle, store.NewInMemory(), time.Hour)
}

func TestVerifySettledCredential(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rootKey := newTestRootKey()
	rawToken, secretHex := paidCredential(t, oracle, rootKey, 1010, "post_job")

	verifier := newTestVerifier(oracle)
	receipt, err := verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 1010)
	require.NoError(t, err)

	assert.Equal(t, int64(1010), receipt.AmountPaidSats)
	token, _ := macaroon.Decode(rawToken)
	assert.Equal(t, token.Identifier, receipt.Identifier)
}

func TestVerifyRejectsReplay(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, secretHex := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")
	verifier := newTestVerifier(oracle)

	_, err := verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 500)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyConsumed))
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	verifier := newTestVerifier(lightning.NewFakeOracle())

	_, err := verifier.Verify(context.Background(), "@@not-a-token@@", "00", "post_job", 100)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformedCredential))
}

func TestVerifyRejectsNonHexSecret(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, _ := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")
	verifier := newTestVerifier(oracle)

	_, err := verifier.Verify(context.Background(), rawToken, "zz-not-hex", "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformedCredential))
}

func TestVerifyRejectsTamperedCaveat(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, secretHex := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")

	// Re-encode with a widened amount caveat; the signature no longer matches.
	token, err := macaroon.Decode(rawToken)
	require.NoError(t, err)
	for i := range token.Caveats {
		if token.Caveats[i].Condition == CaveatAmount {
			token.Caveats[i].Value = "1"
		}
	}
	verifier := newTestVerifier(oracle)
	_, err = verifier.Verify(context.Background(), macaroon.Encode(token), secretHex, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, secretHex := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")

	future := time.Now().Add(2 * time.Hour)
	verifier := NewVerifier(newTestRootKey(), oracle, store.NewInMemory(), time.Hour,
		WithVerifierClock(func() time.Time { return future }))

	_, err := verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, _ := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")
	verifier := newTestVerifier(oracle)

	wrongSecret := hex.EncodeToString(make([]byte, 32))
	_, err := verifier.Verify(context.Background(), rawToken, wrongSecret, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSecretMismatch))
}

func TestVerifyRejectsUnsettledInvoice(t *testing.T) {
	// Mint a credential by hand so the correct preimage is known while the
	// oracle still reports the invoice unsettled.
	rootKey := newTestRootKey()
	preimage := []byte("thirty-two-byte-test-preimage!!!")
	hash := sha256.Sum256(preimage)
	token := macaroon.New(rootKey, hash[:], testLocation)
	token.AddCaveat(macaroon.Caveat{Condition: CaveatAction, Value: "post_job"})

	ctrl := gomock.NewController(t)
	mockOracle := mocks.NewMockOracle(ctrl)
	mockOracle.EXPECT().
		LookupInvoice(gomock.Any(), gomock.Any()).
		Return(lightning.Settlement{Settled: false}, nil)

	verifier := NewVerifier(rootKey, mockOracle, store.NewInMemory(), time.Hour)
	_, err := verifier.Verify(context.Background(), macaroon.Encode(token), hex.EncodeToString(preimage), "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotPaid))
}

func TestVerifyAmountBinding(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rootKey := newTestRootKey()
	issuer := NewIssuer(oracle, rootKey, testLocation, time.Hour)
	challenge, err := issuer.Issue(context.Background(), 1010, "post_job")
	require.NoError(t, err)

	// Settle for one sat less than invoiced.
	token, _ := macaroon.Decode(challenge.Token)
	preimage, err := oracle.SettlePartial(token.Identifier, 1009)
	require.NoError(t, err)

	verifier := NewVerifier(rootKey, oracle, store.NewInMemory(), time.Hour)
	_, err = verifier.Verify(context.Background(), challenge.Token, hex.EncodeToString(preimage), "post_job", 1010)
	require.True(t, dErrors.HasCode(err, dErrors.CodeAmountMismatch))
	// The message must state expected vs. actual so the payer can correct.
	assert.Contains(t, err.Error(), "1010")
	assert.Contains(t, err.Error(), "1009")
}

func TestVerifyRejectsWrongAction(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rawToken, secretHex := paidCredential(t, oracle, newTestRootKey(), 500, "post_job")
	verifier := newTestVerifier(oracle)

	_, err := verifier.Verify(context.Background(), rawToken, secretHex, "delete_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeWrongAction))
}

func TestVerifySurfacesOracleFailureDistinctly(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rootKey := newTestRootKey()
	rawToken, secretHex := paidCredential(t, oracle, rootKey, 500, "post_job")

	ctrl := gomock.NewController(t)
	mockOracle := mocks.NewMockOracle(ctrl)
	mockOracle.EXPECT().
		LookupInvoice(gomock.Any(), gomock.Any()).
		Return(lightning.Settlement{}, sentinel.ErrUnavailable)

	verifier := NewVerifier(rootKey, mockOracle, store.NewInMemory(), time.Hour)
	_, err := verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeOracleUnavailable))
}

func TestVerifyPerformsSingleOracleSnapshot(t *testing.T) {
	oracle := lightning.NewFakeOracle()
	rootKey := newTestRootKey()
	rawToken, secretHex := paidCredential(t, oracle, rootKey, 500, "post_job")

	ctrl := gomock.NewController(t)
	mockOracle := mocks.NewMockOracle(ctrl)
	// Exactly one settlement lookup: the verifier never retries internally.
	mockOracle.EXPECT().
		LookupInvoice(gomock.Any(), gomock.Any()).
		Return(lightning.Settlement{Settled: false}, nil).
		Times(1)

	verifier := NewVerifier(rootKey, mockOracle, store.NewInMemory(), time.Hour)
	_, err := verifier.Verify(context.Background(), rawToken, secretHex, "post_job", 500)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotPaid))
}
