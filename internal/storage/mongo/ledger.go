package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"greencredits/internal/model"
)

type landDoc struct {
	ID               any           `bson:"_id"`
	LandName         string        `bson:"LandName"`
	UserID           string        `bson:"UserID"`
	GeoTag           *model.GeoTag `bson:"geoTag,omitempty"`
	CreditsInitial   int64         `bson:"creditsInitial"`
	RemainingCredits int64         `bson:"remainingCredits"`
	CreatedAt        time.Time     `bson:"createdAt"`
	UpdatedAt        time.Time     `bson:"updatedAt"`
}

func (d landDoc) toModel() *model.Parcel {
	p := &model.Parcel{
		ID:               idString(d.ID),
		Name:             d.LandName,
		OwnerID:          d.UserID,
		CreditsInitial:   d.CreditsInitial,
		RemainingCredits: d.RemainingCredits,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.GeoTag != nil {
		p.GeoTag = *d.GeoTag
	}
	return p
}

type reservationDoc struct {
	TransferID string    `bson:"_id"`
	ParcelID   string    `bson:"parcelId"`
	Amount     int64     `bson:"amount"`
	State      string    `bson:"state"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d reservationDoc) toModel() model.Reservation {
	return model.Reservation{
		TransferID: d.TransferID,
		ParcelID:   d.ParcelID,
		Amount:     d.Amount,
		State:      model.ReservationState(d.State),
		CreatedAt:  d.CreatedAt,
	}
}

// Reservation looks up the reservation owned by transferID.
func (s *Store) Reservation(ctx context.Context, transferID string) (*model.Reservation, error) {
	var doc reservationDoc
	err := s.db.Collection(colReservations).FindOne(ctx, bson.M{"_id": transferID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrReservationNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	r := doc.toModel()
	return &r, nil
}

func (s *Store) RegisterParcel(ctx context.Context, p model.Parcel) error {
	if p.ID == "" || p.CreditsInitial < 0 || p.RemainingCredits < 0 || p.RemainingCredits > p.CreditsInitial {
		return fmt.Errorf("%w: invalid parcel balance", model.ErrValidation)
	}

	now := s.clock.Now()
	doc := landDoc{
		ID:               idKey(p.ID),
		LandName:         p.Name,
		UserID:           p.OwnerID,
		CreditsInitial:   p.CreditsInitial,
		RemainingCredits: p.RemainingCredits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.GeoTag.Type != "" {
		geo := p.GeoTag
		doc.GeoTag = &geo
	}

	if _, err := s.db.Collection(colLands).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.ErrParcelExists
		}
		return fmt.Errorf("insert parcel: %w", err)
	}
	return nil
}

func (s *Store) Parcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	var doc landDoc
	err := s.db.Collection(colLands).FindOne(ctx, bson.M{"_id": idKey(parcelID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrParcelNotFound
		}
		return nil, fmt.Errorf("get parcel: %w", err)
	}
	return doc.toModel(), nil
}

// Reserve decrements the parcel with a conditional update, so the balance
// check and the decrement are one atomic document write.
func (s *Store) Reserve(ctx context.Context, parcelID, transferID string, amount int64) (model.Reservation, error) {
	if amount <= 0 {
		return model.Reservation{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	var out model.Reservation
	err := s.inTx(ctx, func(ctx context.Context) error {
		var existing reservationDoc
		err := s.db.Collection(colReservations).FindOne(ctx, bson.M{"_id": transferID}).Decode(&existing)
		if err == nil {
			out = existing.toModel()
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("find reservation: %w", err)
		}

		now := s.clock.Now()
		lands := s.db.Collection(colLands)
		res, err := lands.UpdateOne(ctx,
			bson.M{"_id": idKey(parcelID), "remainingCredits": bson.M{"$gte": amount}},
			bson.M{"$inc": bson.M{"remainingCredits": -amount}, "$set": bson.M{"updatedAt": now}},
		)
		if err != nil {
			return fmt.Errorf("decrement parcel: %w", err)
		}
		if res.MatchedCount == 0 {
			n, err := lands.CountDocuments(ctx, bson.M{"_id": idKey(parcelID)})
			if err != nil {
				return fmt.Errorf("count parcel: %w", err)
			}
			if n == 0 {
				return model.ErrParcelNotFound
			}
			return model.ErrInsufficientCredits
		}

		doc := reservationDoc{
			TransferID: transferID,
			ParcelID:   parcelID,
			Amount:     amount,
			State:      string(model.ReservationHeld),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := s.db.Collection(colReservations).InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		out = doc.toModel()
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, r model.Reservation) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Collection(colReservations).UpdateOne(ctx,
			bson.M{"_id": r.TransferID, "state": string(model.ReservationHeld)},
			bson.M{"$set": bson.M{"state": string(model.ReservationCommitted), "updatedAt": s.clock.Now()}},
		)
		if err != nil {
			return fmt.Errorf("commit reservation: %w", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		var doc reservationDoc
		err = s.db.Collection(colReservations).FindOne(ctx, bson.M{"_id": r.TransferID}).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return model.ErrReservationNotFound
			}
			return fmt.Errorf("find reservation: %w", err)
		}
		if model.ReservationState(doc.State) == model.ReservationReleased {
			return model.ErrReservationReleased
		}
		return nil
	})
}

func (s *Store) Release(ctx context.Context, r model.Reservation) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()

		var doc reservationDoc
		err := s.db.Collection(colReservations).FindOneAndUpdate(ctx,
			bson.M{"_id": r.TransferID, "state": string(model.ReservationHeld)},
			bson.M{"$set": bson.M{"state": string(model.ReservationReleased), "updatedAt": now}},
		).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil
			}
			return fmt.Errorf("release reservation: %w", err)
		}

		_, err = s.db.Collection(colLands).UpdateOne(ctx,
			bson.M{"_id": idKey(doc.ParcelID)},
			bson.M{"$inc": bson.M{"remainingCredits": doc.Amount}, "$set": bson.M{"updatedAt": now}},
		)
		if err != nil {
			return fmt.Errorf("restore parcel: %w", err)
		}
		return nil
	})
}
