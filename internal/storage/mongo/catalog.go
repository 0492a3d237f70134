package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"greencredits/internal/model"
)

type registeredLandDoc struct {
	ID         any     `bson:"_id"`
	Name       string  `bson:"name"`
	Price      float64 `bson:"price"`
	Location   string  `bson:"location"`
	Area       string  `bson:"area"`
	Greencover string  `bson:"greencover"`
	Status     string  `bson:"status"`
	Date       string  `bson:"date"`
	UserID     string  `bson:"userID"`
}

type buyCreditDoc struct {
	ID                 any       `bson:"_id"`
	Name               string    `bson:"name"`
	PriceCredits       float64   `bson:"priceCredits"`
	Location           string    `bson:"location"`
	Validity           time.Time `bson:"validity"`
	DateOfRegistration time.Time `bson:"dateOfRegistration"`
	CreatedAt          time.Time `bson:"createdAt"`
	UpdatedAt          time.Time `bson:"updatedAt"`
}

func (s *Store) ListRegisteredLands(ctx context.Context) ([]model.RegisteredLand, error) {
	cursor, err := s.db.Collection(colRegisteredLands).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("query registered lands: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []registeredLandDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode registered lands: %w", err)
	}

	lands := make([]model.RegisteredLand, 0, len(docs))
	for _, d := range docs {
		lands = append(lands, model.RegisteredLand{
			ID:         idString(d.ID),
			Name:       d.Name,
			Price:      d.Price,
			Location:   d.Location,
			Area:       d.Area,
			Greencover: d.Greencover,
			Status:     d.Status,
			Date:       d.Date,
			UserID:     d.UserID,
		})
	}
	return lands, nil
}

func (s *Store) ListCreditListings(ctx context.Context) ([]model.CreditListing, error) {
	cursor, err := s.db.Collection(colBuyCredits).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("query buy credits: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []buyCreditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode buy credits: %w", err)
	}

	listings := make([]model.CreditListing, 0, len(docs))
	for _, d := range docs {
		listings = append(listings, model.CreditListing{
			ID:                 idString(d.ID),
			Name:               d.Name,
			PriceCredits:       d.PriceCredits,
			Location:           d.Location,
			Validity:           d.Validity,
			DateOfRegistration: d.DateOfRegistration,
			CreatedAt:          d.CreatedAt,
			UpdatedAt:          d.UpdatedAt,
		})
	}
	return listings, nil
}
