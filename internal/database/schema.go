package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

CREATE TABLE IF NOT EXISTS parcels (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    owner_id TEXT NOT NULL DEFAULT '',
    geo_type TEXT NOT NULL DEFAULT '',
    geo_coordinates DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    credits_initial BIGINT NOT NULL CHECK (credits_initial >= 0),
    remaining_credits BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT parcels_remaining_bounds CHECK (remaining_credits >= 0 AND remaining_credits <= credits_initial)
);

CREATE TABLE IF NOT EXISTS reservations (
    transfer_id TEXT PRIMARY KEY,
    parcel_id TEXT NOT NULL REFERENCES parcels(id),
    amount BIGINT NOT NULL CHECK (amount > 0),
    state TEXT NOT NULL DEFAULT 'HELD',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transfer_orders (
    transfer_id TEXT PRIMARY KEY,
    seller_id TEXT NOT NULL,
    buyer_id TEXT NOT NULL,
    parcel_id TEXT NOT NULL,
    credits BIGINT NOT NULL CHECK (credits > 0),
    certificate_hash TEXT,
    state TEXT NOT NULL DEFAULT 'PENDING',
    failure_code TEXT,
    failure_detail TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS registered_lands (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    name TEXT NOT NULL DEFAULT '',
    price NUMERIC(12,2) NOT NULL DEFAULT 0,
    location TEXT NOT NULL DEFAULT '',
    area TEXT NOT NULL DEFAULT '',
    greencover TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS credit_listings (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    name TEXT NOT NULL,
    price_credits NUMERIC(12,2) NOT NULL,
    location TEXT NOT NULL,
    validity TIMESTAMPTZ NOT NULL,
    date_of_registration TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_reservations_parcel_id ON reservations(parcel_id);
CREATE INDEX IF NOT EXISTS idx_transfer_orders_state_created ON transfer_orders(state, created_at);
CREATE INDEX IF NOT EXISTS idx_transfer_orders_parcel_id ON transfer_orders(parcel_id);
`

func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
