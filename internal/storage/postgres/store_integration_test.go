//go:build integration

package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greencredits/internal/database"
	"greencredits/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URI"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewDB(ctx, dsn)
	if err != nil {
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(pool) })

	require.NoError(t, database.InitSchema(ctx, pool))
	return New(pool)
}

func registerParcel(t *testing.T, s *Store, credits int64) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	require.NoError(t, s.RegisterParcel(context.Background(), model.Parcel{
		ID:               id,
		Name:             "integration",
		CreditsInitial:   credits,
		RemainingCredits: credits,
	}))
	return id
}

func TestStore_ReserveCommitRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parcel := registerParcel(t, s, 100)

	r, err := s.Reserve(ctx, parcel, uuid.NewString(), 30)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationHeld, r.State)

	again, err := s.Reserve(ctx, parcel, r.TransferID, 30)
	require.NoError(t, err)
	assert.Equal(t, r.TransferID, again.TransferID)

	require.NoError(t, s.Commit(ctx, r))
	require.NoError(t, s.Release(ctx, r))

	r2, err := s.Reserve(ctx, parcel, uuid.NewString(), 20)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, r2))
	assert.ErrorIs(t, s.Commit(ctx, r2), model.ErrReservationReleased)

	got, err := s.Reservation(ctx, r2.TransferID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationReleased, got.State)

	p, err := s.Parcel(ctx, parcel)
	require.NoError(t, err)
	assert.Equal(t, int64(70), p.RemainingCredits)

	_, err = s.Reserve(ctx, parcel, uuid.NewString(), 71)
	assert.ErrorIs(t, err, model.ErrInsufficientCredits)

	_, err = s.Reserve(ctx, "it-missing-"+uuid.NewString(), uuid.NewString(), 1)
	assert.ErrorIs(t, err, model.ErrParcelNotFound)

	assert.ErrorIs(t, s.RegisterParcel(ctx, model.Parcel{ID: parcel}), model.ErrParcelExists)
}

func TestStore_ConcurrentReserve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parcel := registerParcel(t, s, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reserve(ctx, parcel, uuid.NewString(), 15)
			if err != nil {
				assert.ErrorIs(t, err, model.ErrInsufficientCredits)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, ok)
	p, err := s.Parcel(ctx, parcel)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.RemainingCredits)
}

func TestStore_OrderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := model.OrderRecord{
		TransferID: id,
		SellerID:   "s",
		BuyerID:    "b",
		ParcelID:   "p",
		Credits:    5,
		State:      model.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateOrder(ctx, rec))
	assert.ErrorIs(t, s.CreateOrder(ctx, rec), model.ErrOrderExists)

	require.NoError(t, s.SetCertificate(ctx, id, "hash", now))
	require.NoError(t, s.FinishOrder(ctx, id, model.OrderFailed, model.FailureNotification, "timeout", now))
	assert.ErrorIs(t, s.FinishOrder(ctx, id, model.OrderCommitted, "", "", now), model.ErrOrderNotPending)

	got, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, got.State)
	assert.Equal(t, "hash", got.CertificateHash)
	assert.Equal(t, model.FailureNotification, got.FailureCode)
	assert.Equal(t, int64(5), got.Credits)

	_, err = s.GetOrder(ctx, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}
