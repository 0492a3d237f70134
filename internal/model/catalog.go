package model

import "time"

// RegisteredLand is a land registration entry as listed to buyers.
type RegisteredLand struct {
	ID         string  `json:"_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Location   string  `json:"location"`
	Area       string  `json:"area"`
	Greencover string  `json:"greencover"`
	Status     string  `json:"status"`
	Date       string  `json:"date"`
	UserID     string  `json:"userID"`
}

// CreditListing is a purchasable credit offer.
type CreditListing struct {
	ID                 string    `json:"_id"`
	Name               string    `json:"name"`
	PriceCredits       float64   `json:"priceCredits"`
	Location           string    `json:"location"`
	Validity           time.Time `json:"validity"`
	DateOfRegistration time.Time `json:"dateOfRegistration"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
