package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"greencredits/internal/clock"
	"greencredits/internal/service"
)

// Collection names match the ones the platform already uses.
const (
	colLands           = "lands"
	colReservations    = "reservations"
	colOrders          = "orders"
	colRegisteredLands = "registered_lands"
	colBuyCredits      = "buy_credits"
)

var (
	_ service.CreditLedger   = (*Store)(nil)
	_ service.OrderStore     = (*Store)(nil)
	_ service.CatalogStore   = (*Store)(nil)
	_ service.ParcelRegistry = (*Store)(nil)
)

// Store implements the persistence ports on MongoDB. Ledger mutations run in
// multi-document transactions, so the deployment must be a replica set.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	clock  clock.Clock
}

func New(client *mongo.Client, db *mongo.Database, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{client: client, db: db, clock: clk}
}

// Migrate creates the indexes the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colLands: {
			{Keys: bson.D{{Key: "geoTag", Value: "2dsphere"}}, Options: options.Index().SetSparse(true)},
		},
		colReservations: {
			{Keys: bson.D{{Key: "parcelId", Value: 1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "parcel", Value: 1}}},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// inTx runs fn inside a transaction, retried by the driver on transient
// write conflicts.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// idKey matches documents whose _id is an ObjectID rendered as hex as well as
// plain string ids.
func idKey(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v any) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}
