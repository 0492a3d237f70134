package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"greencredits/internal/model"
)

const orderColumns = `transfer_id, seller_id, buyer_id, parcel_id, credits,
	COALESCE(certificate_hash, ''), state, COALESCE(failure_code, ''), COALESCE(failure_detail, ''),
	created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, rec model.OrderRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_orders (transfer_id, seller_id, buyer_id, parcel_id, credits, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.TransferID, rec.SellerID, rec.BuyerID, rec.ParcelID, rec.Credits, string(rec.State), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, transferID string) (*model.OrderRecord, error) {
	rec, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM transfer_orders WHERE transfer_id = $1`, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return rec, nil
}

func (s *Store) SetCertificate(ctx context.Context, transferID, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfer_orders SET certificate_hash = $1, updated_at = $2 WHERE transfer_id = $3 AND state = $4`,
		hash, at, transferID, string(model.OrderPending),
	)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.notPendingReason(ctx, transferID)
	}
	return nil
}

// FinishOrder moves a PENDING record to a terminal state. The state guard in
// the WHERE clause makes the transition happen at most once.
func (s *Store) FinishOrder(ctx context.Context, transferID string, state model.OrderState, code, detail string, at time.Time) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", model.ErrValidation, state)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_orders
		SET state = $1, failure_code = NULLIF($2, ''), failure_detail = NULLIF($3, ''), updated_at = $4
		WHERE transfer_id = $5 AND state = $6`,
		string(state), code, detail, at, transferID, string(model.OrderPending),
	)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.notPendingReason(ctx, transferID)
	}
	return nil
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.OrderRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM transfer_orders
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(model.OrderPending), before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale orders: %w", err)
	}
	defer rows.Close()

	var orders []model.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, nil
}

func (s *Store) notPendingReason(ctx context.Context, transferID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfer_orders WHERE transfer_id = $1)`, transferID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return model.ErrOrderNotFound
	}
	return model.ErrOrderNotPending
}

func scanOrder(row pgx.Row) (*model.OrderRecord, error) {
	var rec model.OrderRecord
	var state string
	err := row.Scan(&rec.TransferID, &rec.SellerID, &rec.BuyerID, &rec.ParcelID, &rec.Credits,
		&rec.CertificateHash, &state, &rec.FailureCode, &rec.FailureDetail, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.State = model.OrderState(state)
	return &rec, nil
}
