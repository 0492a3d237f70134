package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"greencredits/internal/model"
)

func (s *Store) RegisterParcel(ctx context.Context, p model.Parcel) error {
	coords := p.GeoTag.Coordinates
	if coords == nil {
		coords = []float64{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO parcels (id, name, owner_id, geo_type, geo_coordinates, credits_initial, remaining_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.OwnerID, p.GeoTag.Type, coords, p.CreditsInitial, p.RemainingCredits,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return model.ErrParcelExists
		case isCheckViolation(err):
			return fmt.Errorf("%w: invalid parcel balance", model.ErrValidation)
		}
		return fmt.Errorf("insert parcel: %w", err)
	}
	return nil
}

func (s *Store) Parcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	var p model.Parcel
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, geo_type, geo_coordinates, credits_initial, remaining_credits, created_at, updated_at
		FROM parcels
		WHERE id = $1`,
		parcelID,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.GeoTag.Type, &p.GeoTag.Coordinates,
		&p.CreditsInitial, &p.RemainingCredits, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrParcelNotFound
		}
		return nil, fmt.Errorf("get parcel: %w", err)
	}
	return &p, nil
}

// Reserve locks the parcel row, so concurrent reservations on one parcel
// serialize on the balance check.
func (s *Store) Reserve(ctx context.Context, parcelID, transferID string, amount int64) (model.Reservation, error) {
	if amount <= 0 {
		return model.Reservation{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Reservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining int64
	err = tx.QueryRow(ctx, `SELECT remaining_credits FROM parcels WHERE id = $1 FOR UPDATE`, parcelID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, model.ErrParcelNotFound
		}
		return model.Reservation{}, fmt.Errorf("lock parcel: %w", err)
	}

	existing, err := getReservation(ctx, tx, transferID, false)
	if err != nil && !errors.Is(err, model.ErrReservationNotFound) {
		return model.Reservation{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	if remaining < amount {
		return model.Reservation{}, model.ErrInsufficientCredits
	}

	_, err = tx.Exec(ctx,
		`UPDATE parcels SET remaining_credits = remaining_credits - $1, updated_at = NOW() WHERE id = $2`,
		amount, parcelID,
	)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("decrement parcel: %w", err)
	}

	r := model.Reservation{
		TransferID: transferID,
		ParcelID:   parcelID,
		Amount:     amount,
		State:      model.ReservationHeld,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO reservations (transfer_id, parcel_id, amount, state)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		transferID, parcelID, amount, string(model.ReservationHeld),
	).Scan(&r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Reservation{}, fmt.Errorf("transfer %s already holds a reservation on another parcel", transferID)
		}
		return model.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Reservation{}, fmt.Errorf("commit tx: %w", err)
	}
	return r, nil
}

func (s *Store) Commit(ctx context.Context, r model.Reservation) error {
	return s.settle(ctx, r.TransferID, func(ctx context.Context, tx pgx.Tx, held *model.Reservation) error {
		switch held.State {
		case model.ReservationCommitted:
			return nil
		case model.ReservationReleased:
			return model.ErrReservationReleased
		}

		_, err := tx.Exec(ctx,
			`UPDATE reservations SET state = $1, updated_at = NOW() WHERE transfer_id = $2`,
			string(model.ReservationCommitted), held.TransferID,
		)
		if err != nil {
			return fmt.Errorf("commit reservation: %w", err)
		}
		return nil
	})
}

func (s *Store) Release(ctx context.Context, r model.Reservation) error {
	err := s.settle(ctx, r.TransferID, func(ctx context.Context, tx pgx.Tx, held *model.Reservation) error {
		if held.State != model.ReservationHeld {
			return nil
		}

		_, err := tx.Exec(ctx,
			`UPDATE reservations SET state = $1, updated_at = NOW() WHERE transfer_id = $2`,
			string(model.ReservationReleased), held.TransferID,
		)
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE parcels SET remaining_credits = remaining_credits + $1, updated_at = NOW() WHERE id = $2`,
			held.Amount, held.ParcelID,
		)
		if err != nil {
			return fmt.Errorf("restore parcel: %w", err)
		}
		return nil
	})
	if errors.Is(err, model.ErrReservationNotFound) {
		return nil
	}
	return err
}

// settle locks the parcel and then the reservation, in the same order Reserve
// takes them, and runs fn inside the transaction.
func (s *Store) settle(ctx context.Context, transferID string, fn func(context.Context, pgx.Tx, *model.Reservation) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var parcelID string
	err = tx.QueryRow(ctx, `SELECT parcel_id FROM reservations WHERE transfer_id = $1`, transferID).Scan(&parcelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrReservationNotFound
		}
		return fmt.Errorf("find reservation: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT 1 FROM parcels WHERE id = $1 FOR UPDATE`, parcelID); err != nil {
		return fmt.Errorf("lock parcel: %w", err)
	}

	held, err := getReservation(ctx, tx, transferID, true)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx, held); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Reservation looks up the reservation owned by transferID.
func (s *Store) Reservation(ctx context.Context, transferID string) (*model.Reservation, error) {
	return getReservation(ctx, s.pool, transferID, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getReservation(ctx context.Context, q rowQuerier, transferID string, forUpdate bool) (*model.Reservation, error) {
	query := `SELECT transfer_id, parcel_id, amount, state, created_at FROM reservations WHERE transfer_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var r model.Reservation
	var state string
	err := q.QueryRow(ctx, query, transferID).Scan(&r.TransferID, &r.ParcelID, &r.Amount, &state, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrReservationNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	r.State = model.ReservationState(state)
	return &r, nil
}
