package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// DefaultAccountsCollection is the collection MongoStore uses unless told otherwise.
const DefaultAccountsCollection = "accounts"

// MongoStore keeps accounts as documents keyed by account ID.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultAccountsCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique customer index. Safe to call repeatedly.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "customer_ref", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("customer_ref_unique"),
	})
	return err
}

type accountDocument struct {
	ID                string     `bson:"_id"`
	CustomerRef       string     `bson:"customer_ref,omitempty"`
	Tier              string     `bson:"tier"`
	Status            string     `bson:"status"`
	SubscriptionRef   string     `bson:"subscription_ref,omitempty"`
	PeriodEnd         *time.Time `bson:"period_end,omitempty"`
	PastDueSince      *time.Time `bson:"past_due_since,omitempty"`
	LastEventSequence int64      `bson:"last_event_sequence"`
	RecentEventIDs    []string   `bson:"recent_event_ids"`
	CancelingRef      string     `bson:"canceling_ref,omitempty"`
	Version           int64      `bson:"version"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func toDocument(a *Account, version int64) accountDocument {
	return accountDocument{
		ID:                a.ID.String(),
		CustomerRef:       a.CustomerRef,
		Tier:              string(a.Tier),
		Status:            string(a.Status),
		SubscriptionRef:   a.SubscriptionRef,
		PeriodEnd:         a.PeriodEnd,
		PastDueSince:      a.PastDueSince,
		LastEventSequence: a.LastEventSequence,
		RecentEventIDs:    a.RecentEventIDs,
		CancelingRef:      a.CancelingRef,
		Version:           version,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (d accountDocument) account() (*Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:                id,
		CustomerRef:       d.CustomerRef,
		Tier:              tier.Name(d.Tier),
		Status:            Status(d.Status),
		SubscriptionRef:   d.SubscriptionRef,
		PeriodEnd:         utcPtr(d.PeriodEnd),
		PastDueSince:      utcPtr(d.PastDueSince),
		LastEventSequence: d.LastEventSequence,
		RecentEventIDs:    d.RecentEventIDs,
		CancelingRef:      d.CancelingRef,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	var doc accountDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.account()
}

func (s *MongoStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *Account) (bool, error) {
	doc := toDocument(next, expectedVersion+1)

	if expectedVersion == 0 {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			// Either the account already exists, which is a lost race, or the
			// customer reference belongs to someone else, which is a real error.
			n, cerr := s.coll.CountDocuments(ctx, bson.M{"_id": doc.ID})
			if cerr == nil && n > 0 {
				return false, nil
			}
			return false, err
		}
		if err != nil {
			return false, err
		}
		next.Version = doc.Version
		return true, nil
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": expectedVersion}, doc)
	if err != nil {
		return false, err
	}
	if res.MatchedCount != 1 {
		return false, nil
	}
	next.Version = doc.Version
	return true, nil
}

func (s *MongoStore) AccountByCustomerRef(ctx context.Context, customerRef string) (uuid.UUID, error) {
	var doc struct {
		ID string `bson:"_id"`
	}
	err := s.coll.FindOne(ctx, bson.M{"customer_ref": customerRef},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return uuid.Nil, ErrAccountNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(doc.ID)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
