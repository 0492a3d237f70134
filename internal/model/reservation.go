package model

import "time"

type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
)

// Reservation is a claim on a parcel's remaining credits owned by one transfer.
type Reservation struct {
	TransferID string           `json:"transferId"`
	ParcelID   string           `json:"parcel"`
	Amount     int64            `json:"amount"`
	State      ReservationState `json:"state"`
	CreatedAt  time.Time        `json:"createdAt"`
}
