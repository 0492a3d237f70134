package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"greencredits/internal/clock"
	"greencredits/internal/model"
)

const defaultNotifyTimeout = 5 * time.Second

type certifier interface {
	Issue(transferID string) (string, error)
}

// TransferCoordinator moves credits from a parcel to a buyer: it reserves the
// credits, issues a certificate, notifies the external ledger and then commits
// or compensates.
type TransferCoordinator struct {
	ledger        CreditLedger
	orders        OrderStore
	issuer        certifier
	notifier      LedgerNotifier
	clock         clock.Clock
	notifyTimeout time.Duration
	newID         func() string
}

type CoordinatorOption func(*TransferCoordinator)

// WithNotifyTimeout bounds the external ledger call.
func WithNotifyTimeout(d time.Duration) CoordinatorOption {
	return func(c *TransferCoordinator) {
		if d > 0 {
			c.notifyTimeout = d
		}
	}
}

func WithClock(clk clock.Clock) CoordinatorOption {
	return func(c *TransferCoordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithIDGenerator replaces the transfer id source used when callers do not
// supply one.
func WithIDGenerator(fn func() string) CoordinatorOption {
	return func(c *TransferCoordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func NewTransferCoordinator(
	ledger CreditLedger,
	orders OrderStore,
	issuer *CertificateIssuer,
	notifier LedgerNotifier,
	opts ...CoordinatorOption,
) *TransferCoordinator {
	c := &TransferCoordinator{
		ledger:        ledger,
		orders:        orders,
		issuer:        issuer,
		notifier:      notifier,
		clock:         clock.NewSystem(),
		notifyTimeout: defaultNotifyTimeout,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type TransferInput struct {
	TransferID string
	SellerID   string
	BuyerID    string
	ParcelID   string
	Credits    int64
}

type TransferResult struct {
	TransferID      string
	CertificateHash string
	State           model.OrderState
	Replayed        bool
}

func (in TransferInput) normalize() TransferInput {
	in.TransferID = strings.TrimSpace(in.TransferID)
	in.SellerID = strings.TrimSpace(in.SellerID)
	in.BuyerID = strings.TrimSpace(in.BuyerID)
	in.ParcelID = strings.TrimSpace(in.ParcelID)
	return in
}

func (in TransferInput) validate() error {
	switch {
	case in.SellerID == "":
		return fmt.Errorf("%w: seller is required", model.ErrValidation)
	case in.BuyerID == "":
		return fmt.Errorf("%w: buyer is required", model.ErrValidation)
	case in.ParcelID == "":
		return fmt.Errorf("%w: parcel is required", model.ErrValidation)
	case in.Credits <= 0:
		return fmt.Errorf("%w: credits must be positive", model.ErrValidation)
	case len(in.TransferID) > 128:
		return fmt.Errorf("%w: transfer id too long", model.ErrValidation)
	}
	return nil
}

// Transfer runs one transfer attempt to a terminal state. Calling it again
// with a transfer id that already has a record returns the recorded outcome
// without repeating any side effect.
func (c *TransferCoordinator) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	in = in.normalize()
	if err := in.validate(); err != nil {
		return TransferResult{}, err
	}

	transferID := in.TransferID
	if transferID == "" {
		transferID = c.newID()
	}

	now := c.clock.Now()
	rec := model.OrderRecord{
		TransferID: transferID,
		SellerID:   in.SellerID,
		BuyerID:    in.BuyerID,
		ParcelID:   in.ParcelID,
		Credits:    in.Credits,
		State:      model.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.orders.CreateOrder(ctx, rec); err != nil {
		if errors.Is(err, model.ErrOrderExists) {
			return c.replay(ctx, in, transferID)
		}
		return TransferResult{TransferID: transferID}, fmt.Errorf("%w: create order: %w", model.ErrPersistence, err)
	}

	// Once the record exists the attempt must reach COMMITTED or FAILED even if
	// the caller goes away.
	work := context.WithoutCancel(ctx)
	result := TransferResult{TransferID: transferID, State: model.OrderPending}
	log := slog.With("transfer_id", transferID, "parcel", in.ParcelID, "credits", in.Credits)

	reservation, err := c.ledger.Reserve(work, in.ParcelID, transferID, in.Credits)
	if err != nil {
		if !errors.Is(err, model.ErrInsufficientCredits) && !errors.Is(err, model.ErrParcelNotFound) {
			err = fmt.Errorf("%w: reserve credits: %w", model.ErrPersistence, err)
		}
		log.Info("transfer rejected", "error", err)
		return c.fail(work, result, nil, err)
	}

	hash, err := c.issuer.Issue(transferID)
	if err != nil {
		return c.fail(work, result, &reservation, fmt.Errorf("%w: issue certificate: %w", model.ErrPersistence, err))
	}
	if err := c.orders.SetCertificate(work, transferID, hash, c.clock.Now()); err != nil {
		return c.fail(work, result, &reservation, fmt.Errorf("%w: store certificate: %w", model.ErrPersistence, err))
	}
	result.CertificateHash = hash

	notifyCtx, cancel := context.WithTimeout(work, c.notifyTimeout)
	err = c.notifier.Notify(notifyCtx, ParticipantHash(in.SellerID), ParticipantHash(in.BuyerID), in.Credits)
	cancel()
	if err != nil {
		log.Warn("ledger notification failed, releasing reservation", "error", err)
		return c.fail(work, result, &reservation, fmt.Errorf("%w: %w", model.ErrNotification, err))
	}

	if err := c.ledger.Commit(work, reservation); err != nil {
		log.Error("commit failed after ledger acknowledged transfer", "error", err)
		return result, fmt.Errorf("%w: commit reservation: %w", model.ErrPersistence, err)
	}
	if err := c.orders.FinishOrder(work, transferID, model.OrderCommitted, "", "", c.clock.Now()); err != nil {
		log.Error("mark order committed failed", "error", err)
		return result, fmt.Errorf("%w: mark order committed: %w", model.ErrPersistence, err)
	}

	result.State = model.OrderCommitted
	log.Info("transfer committed", "certificate", hash)
	return result, nil
}

// fail releases the reservation, if any, and moves the record to FAILED.
// Bookkeeping errors are joined onto cause so none is swallowed.
func (c *TransferCoordinator) fail(ctx context.Context, result TransferResult, reservation *model.Reservation, cause error) (TransferResult, error) {
	code := model.FailureCode(cause)

	if reservation != nil {
		if err := c.ledger.Release(ctx, *reservation); err != nil {
			slog.Error("release reservation failed", "transfer_id", result.TransferID, "error", err)
			cause = errors.Join(cause, fmt.Errorf("%w: release reservation: %w", model.ErrPersistence, err))
		}
	}

	if err := c.orders.FinishOrder(ctx, result.TransferID, model.OrderFailed, code, cause.Error(), c.clock.Now()); err != nil {
		slog.Error("mark order failed", "transfer_id", result.TransferID, "error", err)
		return result, errors.Join(cause, fmt.Errorf("%w: mark order failed: %w", model.ErrPersistence, err))
	}

	result.State = model.OrderFailed
	return result, cause
}

func (c *TransferCoordinator) replay(ctx context.Context, in TransferInput, transferID string) (TransferResult, error) {
	rec, err := c.orders.GetOrder(ctx, transferID)
	if err != nil {
		return TransferResult{TransferID: transferID}, fmt.Errorf("%w: load order: %w", model.ErrPersistence, err)
	}

	if rec.SellerID != in.SellerID || rec.BuyerID != in.BuyerID || rec.ParcelID != in.ParcelID || rec.Credits != in.Credits {
		return TransferResult{TransferID: transferID}, model.ErrIdempotencyConflict
	}

	result := TransferResult{
		TransferID:      rec.TransferID,
		CertificateHash: rec.CertificateHash,
		State:           rec.State,
		Replayed:        true,
	}

	switch rec.State {
	case model.OrderCommitted:
		return result, nil
	case model.OrderPending:
		return result, model.ErrTransferPending
	default:
		return result, fmt.Errorf("transfer %s failed earlier: %w", transferID, model.FailureError(rec.FailureCode))
	}
}

// Order returns the stored record for a transfer.
func (c *TransferCoordinator) Order(ctx context.Context, transferID string) (*model.OrderRecord, error) {
	return c.orders.GetOrder(ctx, transferID)
}
