package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"greencredits/internal/clock"
	"greencredits/internal/model"
	"greencredits/internal/service"
)

// Reconciler settles transfers that stayed PENDING past their TTL, typically
// because the process died mid-transfer.
type Reconciler struct {
	orders     service.OrderStore
	ledger     service.CreditLedger
	clock      clock.Clock
	interval   time.Duration
	pendingTTL time.Duration
	batchSize  int
}

type ReconcilerOption func(*Reconciler)

func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithPendingTTL(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.pendingTTL = d
		}
	}
}

func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewReconciler(orders service.OrderStore, ledger service.CreditLedger, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		orders:     orders,
		ledger:     ledger,
		clock:      clk,
		interval:   30 * time.Second,
		pendingTTL: 5 * time.Minute,
		batchSize:  50,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (w *Reconciler) Start(ctx context.Context) {
	slog.Info("starting reconciler", "interval", w.interval, "pending_ttl", w.pendingTTL)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				slog.Error("reconcile batch failed", "error", err)
			}
		}
	}
}

// RunOnce settles one batch of stale PENDING transfers and reports how many
// reached a terminal state. A transfer whose reservation was already committed
// is rolled forward to COMMITTED; any other is released and FAILED.
func (w *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().Add(-w.pendingTTL)
	stale, err := w.orders.ListStalePending(ctx, cutoff, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	settled := 0
	for _, rec := range stale {
		log := slog.With("transfer_id", rec.TransferID, "parcel", rec.ParcelID, "credits", rec.Credits)

		reservation, err := w.ledger.Reservation(ctx, rec.TransferID)
		if err != nil && !errors.Is(err, model.ErrReservationNotFound) {
			log.Error("failed to load reservation", "error", err)
			continue
		}

		if reservation != nil && reservation.State == model.ReservationCommitted {
			err = w.orders.FinishOrder(ctx, rec.TransferID, model.OrderCommitted, "", "", w.clock.Now())
			if err != nil {
				if !errors.Is(err, model.ErrOrderNotPending) {
					log.Error("failed to mark committed order", "error", err)
				}
				continue
			}
			settled++
			log.Warn("stale transfer rolled forward to committed")
			continue
		}

		if reservation != nil {
			if err := w.ledger.Release(ctx, *reservation); err != nil {
				log.Error("failed to release stale reservation", "error", err)
				continue
			}
		}

		err = w.orders.FinishOrder(ctx, rec.TransferID, model.OrderFailed, model.FailureAbandoned,
			"no terminal state within pending ttl", w.clock.Now())
		if err != nil {
			if !errors.Is(err, model.ErrOrderNotPending) {
				log.Error("failed to mark stale order", "error", err)
			}
			continue
		}

		settled++
		log.Warn("abandoned transfer failed")
	}

	return settled, nil
}
