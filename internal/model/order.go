package model

import (
	"time"
)

type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderCommitted OrderState = "COMMITTED"
	OrderFailed    OrderState = "FAILED"
)

// Failure codes recorded on FAILED orders.
const (
	FailureValidation          = "validation"
	FailureParcelNotFound      = "parcel_not_found"
	FailureInsufficientCredits = "insufficient_credits"
	FailureNotification        = "notification"
	FailurePersistence         = "persistence"
	FailureAbandoned           = "abandoned"
)

// OrderRecord is the durable trace of one transfer attempt. Records are never
// deleted; State moves from PENDING to a terminal state exactly once.
type OrderRecord struct {
	TransferID      string     `json:"transferId"`
	SellerID        string     `json:"seller"`
	BuyerID         string     `json:"buyer"`
	ParcelID        string     `json:"parcel"`
	Credits         int64      `json:"credits"`
	CertificateHash string     `json:"certificateHash,omitempty"`
	State           OrderState `json:"state"`
	FailureCode     string     `json:"failureCode,omitempty"`
	FailureDetail   string     `json:"failureDetail,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (s OrderState) Terminal() bool {
	return s == OrderCommitted || s == OrderFailed
}
