package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection name used by the reference server.
const DefaultCollection = "refresh_tokens"

// MongoStore persists records as documents in one collection, one document
// per token, with _id set to the token id hash.
//
// Rotate is a guarded FindOneAndUpdate on {_id, revoked: false, expires_at >
// now}. Without transactions the successor is inserted first (it is still
// unreachable, since its secret has not been handed out) and removed again
// if the guard loses; cleanup runs detached from the caller's context. With
// WithTransactions(true) both writes run inside one multi-document
// transaction.
type MongoStore struct {
	coll *mongo.Collection
	opts storeOptions
}

// NewMongoStore wraps coll. Call EnsureIndexes once at startup.
func NewMongoStore(coll *mongo.Collection, opts ...Option) *MongoStore {
	return &MongoStore{coll: coll, opts: buildOptions(opts)}
}

// EnsureIndexes creates the subject and session_id lookup indexes and the TTL
// index that garbage-collects records once retention has elapsed.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ttl := int32(s.opts.retention / time.Second)
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "revoked", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(ttl),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create indexes: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) InsertRefreshRecord(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	return s.insert(ctx, rec)
}

func (s *MongoStore) insert(ctx context.Context, rec *Record) error {
	doc := rec.clone()
	doc.Revoked = false
	doc.RevokedAt = time.Time{}
	doc.ReplacedBy = ""
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) FindActiveRefreshRecord(ctx context.Context, tokenID string) (*Record, error) {
	rec, err := s.find(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return checkFound(rec, s.opts.now())
}

func (s *MongoStore) find(ctx context.Context, tokenID string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *MongoStore) Revoke(ctx context.Context, tokenID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": tokenID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": s.opts.now()}},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Either already revoked or absent.
	if _, err := s.find(ctx, tokenID); err != nil {
		return err
	}
	return nil
}

func (s *MongoStore) Rotate(ctx context.Context, oldTokenID string, next *Record) error {
	if err := next.validate(); err != nil {
		return err
	}
	if s.opts.transactions {
		return s.rotateTxn(ctx, oldTokenID, next)
	}

	if err := s.insert(ctx, next); err != nil {
		if errors.Is(err, ErrUnavailable) {
			// The insert may have landed even though the reply did not.
			_ = s.removeSuccessor(ctx, next.TokenID)
		}
		return err
	}
	err := s.claim(ctx, oldTokenID, next.TokenID)
	if err == nil {
		return nil
	}
	return settleClaim(ctx, err, next.TokenID,
		func(ctx context.Context) (*Record, error) { return s.find(ctx, oldTokenID) },
		func(ctx context.Context) error { return s.removeSuccessor(ctx, next.TokenID) },
	)
}

// cleanupTimeout bounds the follow-up reads and deletes of a failed rotation.
// They run detached from the request context.
const cleanupTimeout = 5 * time.Second

// settleClaim decides the outcome of a failed guarded update. A definite
// miss removes the successor. Otherwise the predecessor is re-read: if it
// already links to the successor the update was applied and the rotation
// stands. When the state cannot be read the successor is removed, so the
// chain never holds two active records.
func settleClaim(
	ctx context.Context,
	claimErr error,
	nextTokenID string,
	findOld func(context.Context) (*Record, error),
	remove func(context.Context) error,
) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if !errors.Is(claimErr, ErrAlreadyRotated) &&
		!errors.Is(claimErr, ErrExpired) &&
		!errors.Is(claimErr, ErrNotFound) {
		old, err := findOld(cctx)
		if err == nil && old.Revoked && old.ReplacedBy == nextTokenID {
			return nil
		}
	}

	if err := remove(cctx); err != nil {
		return fmt.Errorf("%w: remove orphan successor: %v (after: %v)", ErrUnavailable, err, claimErr)
	}
	return claimErr
}

func (s *MongoStore) removeSuccessor(ctx context.Context, tokenID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := s.coll.DeleteOne(cctx, bson.M{"_id": tokenID}); err != nil {
		return err
	}
	return nil
}

func (s *MongoStore) rotateTxn(ctx context.Context, oldTokenID string, next *Record) error {
	sess, err := s.coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", ErrUnavailable, err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.claim(sc, oldTokenID, next.TokenID); err != nil {
			return nil, err
		}
		return nil, s.insert(sc, next)
	})
	return err
}

// claim applies the guarded revoke-and-link update to the predecessor and
// classifies a miss.
func (s *MongoStore) claim(ctx context.Context, oldTokenID, nextTokenID string) error {
	now := s.opts.now()
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oldTokenID, "revoked": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": now, "replaced_by": nextTokenID}},
	).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	old, err := s.find(ctx, oldTokenID)
	if err != nil {
		return err
	}
	if old.Revoked {
		return ErrAlreadyRotated
	}
	return ErrExpired
}

func (s *MongoStore) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	now := s.opts.now()
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"subject": subject, "revoked": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(res.DeletedCount), nil
}

var _ Store = (*MongoStore)(nil)
