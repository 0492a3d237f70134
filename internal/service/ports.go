package service

import (
	"context"
	"time"

	"greencredits/internal/model"
)

// CreditLedger owns parcel balances. Every method is atomic with respect to a
// single parcel; Reserve is idempotent per transfer id.
type CreditLedger interface {
	Reserve(ctx context.Context, parcelID, transferID string, amount int64) (model.Reservation, error)
	Commit(ctx context.Context, r model.Reservation) error
	Release(ctx context.Context, r model.Reservation) error
	Reservation(ctx context.Context, transferID string) (*model.Reservation, error)
	Parcel(ctx context.Context, parcelID string) (*model.Parcel, error)
}

// ParcelRegistry registers new parcels with their full credit balance.
type ParcelRegistry interface {
	RegisterParcel(ctx context.Context, p model.Parcel) error
}

// OrderStore persists transfer attempts. Records are never deleted.
type OrderStore interface {
	CreateOrder(ctx context.Context, rec model.OrderRecord) error
	GetOrder(ctx context.Context, transferID string) (*model.OrderRecord, error)
	SetCertificate(ctx context.Context, transferID, hash string, at time.Time) error
	FinishOrder(ctx context.Context, transferID string, state model.OrderState, code, detail string, at time.Time) error
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.OrderRecord, error)
}

// CatalogStore serves the read-only listings.
type CatalogStore interface {
	ListRegisteredLands(ctx context.Context) ([]model.RegisteredLand, error)
	ListCreditListings(ctx context.Context) ([]model.CreditListing, error)
}
