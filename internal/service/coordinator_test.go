package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greencredits/internal/clock"
	"greencredits/internal/model"
	"greencredits/internal/service"
	"greencredits/internal/storage/memory"
)

type notifyCall struct {
	sender   string
	receiver string
	amount   int64
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
	block bool
}

func (f *fakeNotifier) Notify(ctx context.Context, sender, receiver string, amount int64) error {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{sender: sender, receiver: receiver, amount: amount})
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return fmt.Errorf("ledger call: %w", ctx.Err())
	}
	return err
}

func (f *fakeNotifier) Calls() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.calls...)
}

type fixture struct {
	store    *memory.Store
	notifier *fakeNotifier
	issuer   *service.CertificateIssuer
	coord    *service.TransferCoordinator
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, credits int64, opts ...service.CoordinatorOption) *fixture {
	t.Helper()

	clk := clock.NewFixed(testNow)
	st := memory.New(clk)
	require.NoError(t, st.RegisterParcel(context.Background(), model.Parcel{
		ID:               "parcel-1",
		OwnerID:          "seller-1",
		CreditsInitial:   credits,
		RemainingCredits: credits,
	}))

	issuer, err := service.NewCertificateIssuer("test-certificate-key")
	require.NoError(t, err)

	n := &fakeNotifier{}
	opts = append([]service.CoordinatorOption{service.WithClock(clk)}, opts...)
	return &fixture{
		store:    st,
		notifier: n,
		issuer:   issuer,
		coord:    service.NewTransferCoordinator(st, st, issuer, n, opts...),
	}
}

func (f *fixture) remaining(t *testing.T) int64 {
	t.Helper()
	p, err := f.store.Parcel(context.Background(), "parcel-1")
	require.NoError(t, err)
	return p.RemainingCredits
}

func input(id string, credits int64) service.TransferInput {
	return service.TransferInput{
		TransferID: id,
		SellerID:   "seller-1",
		BuyerID:    "buyer-1",
		ParcelID:   "parcel-1",
		Credits:    credits,
	}
}

func TestTransfer_Success(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	res, err := f.coord.Transfer(ctx, input("tx-1", 40))
	require.NoError(t, err)

	want, err := f.issuer.Issue("tx-1")
	require.NoError(t, err)

	assert.Equal(t, "tx-1", res.TransferID)
	assert.Equal(t, model.OrderCommitted, res.State)
	assert.Equal(t, want, res.CertificateHash)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(60), f.remaining(t))

	rec, err := f.store.GetOrder(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCommitted, rec.State)
	assert.Equal(t, want, rec.CertificateHash)
	assert.Empty(t, rec.FailureCode)

	r, err := f.store.Reservation(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCommitted, r.State)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, service.ParticipantHash("seller-1"), calls[0].sender)
	assert.Equal(t, service.ParticipantHash("buyer-1"), calls[0].receiver)
	assert.Equal(t, int64(40), calls[0].amount)
}

func TestTransfer_ExactBalance(t *testing.T) {
	f := newFixture(t, 50)

	res, err := f.coord.Transfer(context.Background(), input("tx-exact", 50))
	require.NoError(t, err)
	assert.Equal(t, model.OrderCommitted, res.State)
	assert.Equal(t, int64(0), f.remaining(t))
}

func TestTransfer_InsufficientCredits(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()

	res, err := f.coord.Transfer(ctx, input("tx-2", 40))
	require.ErrorIs(t, err, model.ErrInsufficientCredits)
	assert.Equal(t, model.OrderFailed, res.State)
	assert.Empty(t, res.CertificateHash)
	assert.Equal(t, int64(30), f.remaining(t))
	assert.Empty(t, f.notifier.Calls())

	rec, err := f.store.GetOrder(ctx, "tx-2")
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, rec.State)
	assert.Equal(t, model.FailureInsufficientCredits, rec.FailureCode)
	assert.Empty(t, rec.CertificateHash)
}

func TestTransfer_UnknownParcel(t *testing.T) {
	f := newFixture(t, 100)
	in := input("tx-3", 10)
	in.ParcelID = "missing"

	_, err := f.coord.Transfer(context.Background(), in)
	require.ErrorIs(t, err, model.ErrParcelNotFound)

	rec, err := f.store.GetOrder(context.Background(), "tx-3")
	require.NoError(t, err)
	assert.Equal(t, model.FailureParcelNotFound, rec.FailureCode)
}

func TestTransfer_ValidationCreatesNoRecord(t *testing.T) {
	tests := []struct {
		name string
		in   service.TransferInput
	}{
		{name: "zero credits", in: input("tx-v", 0)},
		{name: "negative credits", in: input("tx-v", -5)},
		{name: "missing seller", in: service.TransferInput{TransferID: "tx-v", BuyerID: "b", ParcelID: "parcel-1", Credits: 1}},
		{name: "missing buyer", in: service.TransferInput{TransferID: "tx-v", SellerID: "s", ParcelID: "parcel-1", Credits: 1}},
		{name: "blank parcel", in: service.TransferInput{TransferID: "tx-v", SellerID: "s", BuyerID: "b", ParcelID: "  ", Credits: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)

			_, err := f.coord.Transfer(context.Background(), tt.in)
			require.ErrorIs(t, err, model.ErrValidation)

			_, err = f.store.GetOrder(context.Background(), "tx-v")
			assert.ErrorIs(t, err, model.ErrOrderNotFound)
			assert.Equal(t, int64(100), f.remaining(t))
		})
	}
}

func TestTransfer_NotificationFailureReleasesCredits(t *testing.T) {
	f := newFixture(t, 100)
	f.notifier.err = errors.New("ledger returned 500")
	ctx := context.Background()

	res, err := f.coord.Transfer(ctx, input("tx-4", 40))
	require.ErrorIs(t, err, model.ErrNotification)
	assert.Equal(t, model.OrderFailed, res.State)
	assert.Equal(t, int64(100), f.remaining(t))

	rec, err := f.store.GetOrder(ctx, "tx-4")
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, rec.State)
	assert.Equal(t, model.FailureNotification, rec.FailureCode)
	assert.Contains(t, rec.FailureDetail, "ledger returned 500")

	r, err := f.store.Reservation(ctx, "tx-4")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationReleased, r.State)
}

func TestTransfer_NotificationTimeout(t *testing.T) {
	f := newFixture(t, 100, service.WithNotifyTimeout(20*time.Millisecond))
	f.notifier.block = true

	start := time.Now()
	_, err := f.coord.Transfer(context.Background(), input("tx-5", 10))
	require.ErrorIs(t, err, model.ErrNotification)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(100), f.remaining(t))
}

func TestTransfer_CallerCancellationDoesNotStrandRecord(t *testing.T) {
	f := newFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.coord.Transfer(ctx, input("tx-6", 10))
	require.NoError(t, err)
	assert.Equal(t, model.OrderCommitted, res.State)
	assert.Equal(t, int64(90), f.remaining(t))
}

func TestTransfer_ReplayCommitted(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	first, err := f.coord.Transfer(ctx, input("tx-7", 25))
	require.NoError(t, err)

	second, err := f.coord.Transfer(ctx, input("tx-7", 25))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.CertificateHash, second.CertificateHash)
	assert.Equal(t, model.OrderCommitted, second.State)
	assert.Equal(t, int64(75), f.remaining(t))
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestTransfer_ReplayFailedReturnsRecordedOutcome(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.coord.Transfer(ctx, input("tx-8", 20))
	require.ErrorIs(t, err, model.ErrInsufficientCredits)

	res, err := f.coord.Transfer(ctx, input("tx-8", 20))
	require.ErrorIs(t, err, model.ErrInsufficientCredits)
	assert.True(t, res.Replayed)
	assert.Equal(t, model.OrderFailed, res.State)
}

func TestTransfer_ReplayWithDifferentParameters(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.coord.Transfer(ctx, input("tx-9", 10))
	require.NoError(t, err)

	_, err = f.coord.Transfer(ctx, input("tx-9", 11))
	require.ErrorIs(t, err, model.ErrIdempotencyConflict)
	assert.Equal(t, int64(90), f.remaining(t))
}

func TestTransfer_ReplayPending(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, model.OrderRecord{
		TransferID: "tx-10",
		SellerID:   "seller-1",
		BuyerID:    "buyer-1",
		ParcelID:   "parcel-1",
		Credits:    5,
		State:      model.OrderPending,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}))

	res, err := f.coord.Transfer(ctx, input("tx-10", 5))
	require.ErrorIs(t, err, model.ErrTransferPending)
	assert.Equal(t, model.OrderPending, res.State)
	assert.Empty(t, f.notifier.Calls())
}

func TestTransfer_GeneratesTransferID(t *testing.T) {
	f := newFixture(t, 100, service.WithIDGenerator(func() string { return "generated-1" }))

	res, err := f.coord.Transfer(context.Background(), input("", 1))
	require.NoError(t, err)
	assert.Equal(t, "generated-1", res.TransferID)

	rec, err := f.coord.Order(context.Background(), "generated-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCommitted, rec.State)
}

func TestTransfer_TwoConcurrentOverdraws(t *testing.T) {
	f := newFixture(t, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.Transfer(context.Background(), input(fmt.Sprintf("tx-c-%d", i), 60))
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(40), f.remaining(t))
}

func TestTransfer_ConcurrentTransfersConserveCredits(t *testing.T) {
	f := newFixture(t, 100)

	var committed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.coord.Transfer(context.Background(), input(fmt.Sprintf("tx-m-%d", i), 3))
			if err == nil {
				committed.Add(3)
				assert.Equal(t, model.OrderCommitted, res.State)
				return
			}
			assert.ErrorIs(t, err, model.ErrInsufficientCredits)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(99), committed.Load())
	assert.Equal(t, int64(100), committed.Load()+f.remaining(t))
}

type failingOrders struct {
	*memory.Store
}

func (failingOrders) SetCertificate(context.Context, string, string, time.Time) error {
	return errors.New("disk full")
}

func TestTransfer_CertificatePersistFailureReleases(t *testing.T) {
	f := newFixture(t, 100)
	coord := service.NewTransferCoordinator(f.store, failingOrders{f.store}, f.issuer, f.notifier)

	res, err := coord.Transfer(context.Background(), input("tx-11", 10))
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.Equal(t, model.OrderFailed, res.State)
	assert.Equal(t, int64(100), f.remaining(t))
	assert.Empty(t, f.notifier.Calls())

	rec, err := f.store.GetOrder(context.Background(), "tx-11")
	require.NoError(t, err)
	assert.Equal(t, model.FailurePersistence, rec.FailureCode)
}

type failingCommit struct {
	*memory.Store
}

func (failingCommit) Commit(context.Context, model.Reservation) error {
	return errors.New("connection reset")
}

func TestTransfer_CommitFailureLeavesRecordPending(t *testing.T) {
	f := newFixture(t, 100)
	coord := service.NewTransferCoordinator(failingCommit{f.store}, f.store, f.issuer, f.notifier)

	res, err := coord.Transfer(context.Background(), input("tx-12", 10))
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.Equal(t, model.OrderPending, res.State)
	assert.NotEmpty(t, res.CertificateHash)
	assert.Len(t, f.notifier.Calls(), 1)

	rec, err := f.store.GetOrder(context.Background(), "tx-12")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, rec.State)
}
