package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"greencredits/internal/clock"
	"greencredits/internal/model"
)

const receiptIssuer = "greencredits"

// ReceiptClaims is the signed proof that a transfer was committed.
type ReceiptClaims struct {
	CertificateHash string `json:"cert"`
	ParcelID        string `json:"parcel"`
	Credits         int64  `json:"credits"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
	jwt.RegisteredClaims
}

type ReceiptSigner struct {
	secret []byte
	clock  clock.Clock
}

func NewReceiptSigner(secret string, clk clock.Clock) (*ReceiptSigner, error) {
	if secret == "" {
		return nil, errors.New("receipt secret is required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ReceiptSigner{secret: []byte(secret), clock: clk}, nil
}

// Sign issues an HS256 receipt for a committed order.
func (s *ReceiptSigner) Sign(rec model.OrderRecord) (string, error) {
	if rec.State != model.OrderCommitted || rec.CertificateHash == "" {
		return "", model.ErrNotCommitted
	}

	claims := ReceiptClaims{
		CertificateHash: rec.CertificateHash,
		ParcelID:        rec.ParcelID,
		Credits:         rec.Credits,
		Sender:          ParticipantHash(rec.SellerID),
		Receiver:        ParticipantHash(rec.BuyerID),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       rec.TransferID,
			Issuer:   receiptIssuer,
			Subject:  rec.CertificateHash,
			IssuedAt: jwt.NewNumericDate(s.clock.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

func (s *ReceiptSigner) Verify(tokenString string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(receiptIssuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidReceipt, err)
	}
	if claims.ID == "" || claims.CertificateHash == "" {
		return nil, fmt.Errorf("%w: missing transfer binding", model.ErrInvalidReceipt)
	}
	return claims, nil
}
