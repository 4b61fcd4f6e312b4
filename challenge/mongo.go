package challenge

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection name used by the reference server.
const DefaultCollection = "one_time_tokens"

// MongoStore keeps one document per challenge with _id set to the secret
// hash. Consume is a single FindOneAndDelete guarded on purpose and expiry;
// a TTL index removes records nobody consumed.
type MongoStore struct {
	coll *mongo.Collection
	opts storeOptions
}

// NewMongoStore wraps coll. Call EnsureIndexes once at startup.
func NewMongoStore(coll *mongo.Collection, opts ...Option) *MongoStore {
	return &MongoStore{coll: coll, opts: buildOptions(opts)}
}

// EnsureIndexes creates the subject lookup index and the TTL index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "purpose", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create indexes: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	doc := *rec
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.ExpiresAt = doc.ExpiresAt.UTC()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Consume(ctx context.Context, purpose Purpose, id string) (*Record, error) {
	var rec Record
	err := s.coll.FindOneAndDelete(ctx, bson.M{
		"_id":        id,
		"purpose":    purpose,
		"expires_at": bson.M{"$gt": s.opts.now()},
	}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *MongoStore) DeleteForSubject(ctx context.Context, purpose Purpose, subject string) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"subject": subject, "purpose": purpose})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(res.DeletedCount), nil
}

var _ Store = (*MongoStore)(nil)
