package model

import "time"

type GeoTag struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

type Parcel struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OwnerID          string    `json:"ownerId"`
	GeoTag           GeoTag    `json:"geoTag"`
	CreditsInitial   int64     `json:"creditsInitial"`
	RemainingCredits int64     `json:"remainingCredits"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
