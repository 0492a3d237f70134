package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"greencredits/internal/model"
)

type orderDoc struct {
	TransferID      string    `bson:"_id"`
	Seller          string    `bson:"seller"`
	Buyer           string    `bson:"buyer"`
	Parcel          string    `bson:"parcel"`
	Credits         int64     `bson:"credits"`
	Timestamp       string    `bson:"timestamp"`
	CertificateHash string    `bson:"certificate_hash,omitempty"`
	State           string    `bson:"state"`
	FailureCode     string    `bson:"failure_code,omitempty"`
	FailureDetail   string    `bson:"failure_detail,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

// orderTimestamp renders t the way existing order documents store it,
// e.g. 20240131235959123.
func orderTimestamp(t time.Time) string {
	return strings.Replace(t.UTC().Format("20060102150405.000"), ".", "", 1)
}

func (d orderDoc) toModel() *model.OrderRecord {
	return &model.OrderRecord{
		TransferID:      d.TransferID,
		SellerID:        d.Seller,
		BuyerID:         d.Buyer,
		ParcelID:        d.Parcel,
		Credits:         d.Credits,
		CertificateHash: d.CertificateHash,
		State:           model.OrderState(d.State),
		FailureCode:     d.FailureCode,
		FailureDetail:   d.FailureDetail,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (s *Store) CreateOrder(ctx context.Context, rec model.OrderRecord) error {
	doc := orderDoc{
		TransferID: rec.TransferID,
		Seller:     rec.SellerID,
		Buyer:      rec.BuyerID,
		Parcel:     rec.ParcelID,
		Credits:    rec.Credits,
		Timestamp:  orderTimestamp(rec.CreatedAt),
		State:      string(rec.State),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if _, err := s.db.Collection(colOrders).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, transferID string) (*model.OrderRecord, error) {
	var doc orderDoc
	err := s.db.Collection(colOrders).FindOne(ctx, bson.M{"_id": transferID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return doc.toModel(), nil
}

func (s *Store) SetCertificate(ctx context.Context, transferID, hash string, at time.Time) error {
	return s.updatePending(ctx, transferID, bson.M{"certificate_hash": hash, "updatedAt": at})
}

func (s *Store) FinishOrder(ctx context.Context, transferID string, state model.OrderState, code, detail string, at time.Time) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", model.ErrValidation, state)
	}

	set := bson.M{"state": string(state), "updatedAt": at}
	if code != "" {
		set["failure_code"] = code
	}
	if detail != "" {
		set["failure_detail"] = detail
	}
	return s.updatePending(ctx, transferID, set)
}

// updatePending applies set only while the order is still PENDING.
func (s *Store) updatePending(ctx context.Context, transferID string, set bson.M) error {
	orders := s.db.Collection(colOrders)
	res, err := orders.UpdateOne(ctx,
		bson.M{"_id": transferID, "state": string(model.OrderPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := orders.CountDocuments(ctx, bson.M{"_id": transferID})
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if n == 0 {
		return model.ErrOrderNotFound
	}
	return model.ErrOrderNotPending
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.OrderRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(colOrders).Find(ctx,
		bson.M{"state": string(model.OrderPending), "createdAt": bson.M{"$lt": before}},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode stale orders: %w", err)
	}

	orders := make([]model.OrderRecord, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, *d.toModel())
	}
	return orders, nil
}
