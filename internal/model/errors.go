package model

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrParcelNotFound      = errors.New("parcel not found")
	ErrParcelExists        = errors.New("parcel already registered")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotification        = errors.New("ledger notification failed")
	ErrPersistence         = errors.New("persistence failure")

	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("order already exists")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationReleased = errors.New("reservation already released")
	ErrIdempotencyConflict = errors.New("transfer id reused with different parameters")
	ErrTransferPending     = errors.New("transfer still in progress")
	ErrTransferAbandoned   = errors.New("transfer abandoned before completion")
	ErrNotCommitted        = errors.New("transfer not committed")
	ErrInvalidReceipt      = errors.New("invalid receipt")
)

// FailureError maps a recorded failure code back to the sentinel it was
// recorded for.
func FailureError(code string) error {
	switch code {
	case FailureValidation:
		return ErrValidation
	case FailureParcelNotFound:
		return ErrParcelNotFound
	case FailureInsufficientCredits:
		return ErrInsufficientCredits
	case FailureNotification:
		return ErrNotification
	case FailureAbandoned:
		return ErrTransferAbandoned
	default:
		return ErrPersistence
	}
}

// FailureCode classifies err into the code stored on a FAILED order.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return FailureValidation
	case errors.Is(err, ErrParcelNotFound):
		return FailureParcelNotFound
	case errors.Is(err, ErrInsufficientCredits):
		return FailureInsufficientCredits
	case errors.Is(err, ErrNotification):
		return FailureNotification
	case errors.Is(err, ErrTransferAbandoned):
		return FailureAbandoned
	default:
		return FailurePersistence
	}
}
