package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greencredits/internal/clock"
	"greencredits/internal/model"
)

func committedOrder() model.OrderRecord {
	return model.OrderRecord{
		TransferID:      "tx-1",
		SellerID:        "seller-1",
		BuyerID:         "buyer-1",
		ParcelID:        "parcel-1",
		Credits:         40,
		CertificateHash: "abc123",
		State:           model.OrderCommitted,
	}
}

func TestReceiptSigner_RoundTrip(t *testing.T) {
	signer, err := NewReceiptSigner("receipt-key", clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	token, err := signer.Sign(committedOrder())
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", claims.ID)
	assert.Equal(t, "abc123", claims.CertificateHash)
	assert.Equal(t, "parcel-1", claims.ParcelID)
	assert.Equal(t, int64(40), claims.Credits)
	assert.Equal(t, ParticipantHash("seller-1"), claims.Sender)
	assert.Equal(t, ParticipantHash("buyer-1"), claims.Receiver)
}

func TestReceiptSigner_RejectsUncommitted(t *testing.T) {
	signer, err := NewReceiptSigner("receipt-key", nil)
	require.NoError(t, err)

	for _, state := range []model.OrderState{model.OrderPending, model.OrderFailed} {
		rec := committedOrder()
		rec.State = state
		_, err := signer.Sign(rec)
		assert.ErrorIs(t, err, model.ErrNotCommitted, state)
	}
}

func TestReceiptSigner_RejectsForeignToken(t *testing.T) {
	signer, err := NewReceiptSigner("receipt-key", nil)
	require.NoError(t, err)
	other, err := NewReceiptSigner("other-key", nil)
	require.NoError(t, err)

	token, err := other.Sign(committedOrder())
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, model.ErrInvalidReceipt)

	_, err = signer.Verify("not-a-token")
	assert.ErrorIs(t, err, model.ErrInvalidReceipt)
}

func TestReceiptSigner_RejectsNoneAlgorithm(t *testing.T) {
	signer, err := NewReceiptSigner("receipt-key", nil)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, ReceiptClaims{
		CertificateHash:  "abc123",
		RegisteredClaims: jwt.RegisteredClaims{ID: "tx-1", Issuer: receiptIssuer},
	})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = signer.Verify(unsigned)
	assert.ErrorIs(t, err, model.ErrInvalidReceipt)
}
