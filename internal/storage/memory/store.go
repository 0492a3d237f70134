// Package memory is an in-process backend. Each parcel carries its own mutex so
// transfers on different parcels never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"greencredits/internal/clock"
	"greencredits/internal/model"
	"greencredits/internal/service"
)

var (
	_ service.CreditLedger   = (*Store)(nil)
	_ service.OrderStore     = (*Store)(nil)
	_ service.CatalogStore   = (*Store)(nil)
	_ service.ParcelRegistry = (*Store)(nil)
)

type parcelEntry struct {
	mu     sync.Mutex
	parcel model.Parcel
}

type Store struct {
	clock clock.Clock

	parcelsMu sync.RWMutex
	parcels   map[string]*parcelEntry

	// reservation state changes only while the owning parcel's lock is held
	reservationsMu sync.Mutex
	reservations   map[string]*model.Reservation

	ordersMu sync.RWMutex
	orders   map[string]*model.OrderRecord

	catalogMu sync.RWMutex
	lands     []model.RegisteredLand
	listings  []model.CreditListing
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		clock:        clk,
		parcels:      make(map[string]*parcelEntry),
		reservations: make(map[string]*model.Reservation),
		orders:       make(map[string]*model.OrderRecord),
	}
}

func (s *Store) RegisterParcel(_ context.Context, p model.Parcel) error {
	if p.ID == "" || p.CreditsInitial < 0 || p.RemainingCredits < 0 || p.RemainingCredits > p.CreditsInitial {
		return fmt.Errorf("%w: invalid parcel balance", model.ErrValidation)
	}

	s.parcelsMu.Lock()
	defer s.parcelsMu.Unlock()

	if _, exists := s.parcels[p.ID]; exists {
		return model.ErrParcelExists
	}

	now := s.clock.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.parcels[p.ID] = &parcelEntry{parcel: p}
	return nil
}

func (s *Store) entry(parcelID string) (*parcelEntry, error) {
	s.parcelsMu.RLock()
	defer s.parcelsMu.RUnlock()

	e, ok := s.parcels[parcelID]
	if !ok {
		return nil, model.ErrParcelNotFound
	}
	return e, nil
}

func (s *Store) Parcel(_ context.Context, parcelID string) (*model.Parcel, error) {
	e, err := s.entry(parcelID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.parcel
	return &p, nil
}

func (s *Store) Reserve(_ context.Context, parcelID, transferID string, amount int64) (model.Reservation, error) {
	if amount <= 0 {
		return model.Reservation{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	e, err := s.entry(parcelID)
	if err != nil {
		return model.Reservation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.reservationsMu.Lock()
	defer s.reservationsMu.Unlock()

	if existing, ok := s.reservations[transferID]; ok {
		return *existing, nil
	}

	if amount > e.parcel.RemainingCredits {
		return model.Reservation{}, model.ErrInsufficientCredits
	}

	now := s.clock.Now()
	e.parcel.RemainingCredits -= amount
	e.parcel.UpdatedAt = now

	r := &model.Reservation{
		TransferID: transferID,
		ParcelID:   parcelID,
		Amount:     amount,
		State:      model.ReservationHeld,
		CreatedAt:  now,
	}
	s.reservations[transferID] = r
	return *r, nil
}

func (s *Store) lookup(transferID string) (*model.Reservation, bool) {
	s.reservationsMu.Lock()
	defer s.reservationsMu.Unlock()
	r, ok := s.reservations[transferID]
	return r, ok
}

func (s *Store) Commit(_ context.Context, r model.Reservation) error {
	held, ok := s.lookup(r.TransferID)
	if !ok {
		return model.ErrReservationNotFound
	}

	e, err := s.entry(held.ParcelID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.reservationsMu.Lock()
	defer s.reservationsMu.Unlock()

	switch held.State {
	case model.ReservationCommitted:
		return nil
	case model.ReservationReleased:
		return model.ErrReservationReleased
	}
	held.State = model.ReservationCommitted
	e.parcel.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) Release(_ context.Context, r model.Reservation) error {
	held, ok := s.lookup(r.TransferID)
	if !ok {
		return nil
	}

	e, err := s.entry(held.ParcelID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.reservationsMu.Lock()
	defer s.reservationsMu.Unlock()

	if held.State != model.ReservationHeld {
		return nil
	}
	held.State = model.ReservationReleased
	e.parcel.RemainingCredits += held.Amount
	e.parcel.UpdatedAt = s.clock.Now()
	return nil
}

// Reservation returns a copy of the reservation owned by transferID.
func (s *Store) Reservation(_ context.Context, transferID string) (*model.Reservation, error) {
	s.reservationsMu.Lock()
	defer s.reservationsMu.Unlock()
	r, ok := s.reservations[transferID]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) CreateOrder(_ context.Context, rec model.OrderRecord) error {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	if _, exists := s.orders[rec.TransferID]; exists {
		return model.ErrOrderExists
	}
	s.orders[rec.TransferID] = &rec
	return nil
}

func (s *Store) GetOrder(_ context.Context, transferID string) (*model.OrderRecord, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()

	rec, ok := s.orders[transferID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) SetCertificate(_ context.Context, transferID, hash string, at time.Time) error {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	rec, ok := s.orders[transferID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if rec.State != model.OrderPending {
		return model.ErrOrderNotPending
	}
	rec.CertificateHash = hash
	rec.UpdatedAt = at
	return nil
}

func (s *Store) FinishOrder(_ context.Context, transferID string, state model.OrderState, code, detail string, at time.Time) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", model.ErrValidation, state)
	}

	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	rec, ok := s.orders[transferID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if rec.State != model.OrderPending {
		return model.ErrOrderNotPending
	}
	rec.State = state
	rec.FailureCode = code
	rec.FailureDetail = detail
	rec.UpdatedAt = at
	return nil
}

func (s *Store) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.OrderRecord, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()

	var out []model.OrderRecord
	for _, rec := range s.orders {
		if rec.State == model.OrderPending && rec.CreatedAt.Before(before) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddRegisteredLand(l model.RegisteredLand) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.lands = append(s.lands, l)
}

func (s *Store) AddCreditListing(l model.CreditListing) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.listings = append(s.listings, l)
}

func (s *Store) ListRegisteredLands(_ context.Context) ([]model.RegisteredLand, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return append([]model.RegisteredLand(nil), s.lands...), nil
}

func (s *Store) ListCreditListings(_ context.Context) ([]model.CreditListing, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return append([]model.CreditListing(nil), s.listings...), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
