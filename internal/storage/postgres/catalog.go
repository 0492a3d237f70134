package postgres

import (
	"context"
	"fmt"

	"greencredits/internal/model"
)

func (s *Store) ListRegisteredLands(ctx context.Context) ([]model.RegisteredLand, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, price::float8, location, area, greencover, status, date, user_id
		FROM registered_lands
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query registered lands: %w", err)
	}
	defer rows.Close()

	lands := make([]model.RegisteredLand, 0)
	for rows.Next() {
		var l model.RegisteredLand
		if err := rows.Scan(&l.ID, &l.Name, &l.Price, &l.Location, &l.Area, &l.Greencover, &l.Status, &l.Date, &l.UserID); err != nil {
			return nil, fmt.Errorf("scan registered land: %w", err)
		}
		lands = append(lands, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return lands, nil
}

func (s *Store) ListCreditListings(ctx context.Context) ([]model.CreditListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, price_credits::float8, location, validity, date_of_registration, created_at, updated_at
		FROM credit_listings
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query credit listings: %w", err)
	}
	defer rows.Close()

	listings := make([]model.CreditListing, 0)
	for rows.Next() {
		var l model.CreditListing
		if err := rows.Scan(&l.ID, &l.Name, &l.PriceCredits, &l.Location, &l.Validity,
			&l.DateOfRegistration, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credit listing: %w", err)
		}
		listings = append(listings, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return listings, nil
}
