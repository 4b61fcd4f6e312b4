package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credcore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection name used by the reference server.
const DefaultCollection = "users"

var errInvalidInput = errors.New("userstore: user id and identifier are required")

// userDocument is the stored shape. Status is kept as its string name so the
// collection stays readable from the shell.
type userDocument struct {
	UserID       string    `bson:"_id"`
	Identifier   string    `bson:"identifier"`
	PasswordHash string    `bson:"password_hash"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
	LastLoginAt  time.Time `bson:"last_login_at,omitempty"`
	VerifiedAt   time.Time `bson:"verified_at,omitempty"`
	DeletedAt    time.Time `bson:"deleted_at,omitempty"`
}

func (d *userDocument) record() (credcore.UserRecord, error) {
	status, err := credcore.ParseAccountStatus(d.Status)
	if err != nil {
		return credcore.UserRecord{}, fmt.Errorf("user %s: %w", d.UserID, err)
	}
	return credcore.UserRecord{
		UserID:       d.UserID,
		Identifier:   d.Identifier,
		PasswordHash: d.PasswordHash,
		Status:       status,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		LastLoginAt:  d.LastLoginAt,
		VerifiedAt:   d.VerifiedAt,
	}, nil
}

// MongoStore implements credcore.UserProvider on one collection.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore wraps coll. Call EnsureIndexes once at startup.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// EnsureIndexes creates the unique identifier index and the status index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identifier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByIdentifier(ctx context.Context, identifier string) (credcore.UserRecord, error) {
	return s.findOne(ctx, bson.M{"identifier": identifier})
}

func (s *MongoStore) GetUserByID(ctx context.Context, userID string) (credcore.UserRecord, error) {
	return s.findOne(ctx, bson.M{"_id": userID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (credcore.UserRecord, error) {
	var doc userDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credcore.UserRecord{}, credcore.ErrUserNotFound
		}
		return credcore.UserRecord{}, fmt.Errorf("find user: %w", err)
	}
	return doc.record()
}

func (s *MongoStore) CreateUser(ctx context.Context, in credcore.CreateUserInput) (credcore.UserRecord, error) {
	if in.UserID == "" || in.Identifier == "" {
		return credcore.UserRecord{}, errInvalidInput
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	doc := userDocument{
		UserID:       in.UserID,
		Identifier:   in.Identifier,
		PasswordHash: in.PasswordHash,
		Status:       in.Status.String(),
		CreatedAt:    created.UTC(),
		UpdatedAt:    created.UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credcore.UserRecord{}, credcore.ErrAccountExists
		}
		return credcore.UserRecord{}, fmt.Errorf("insert user: %w", err)
	}
	return doc.record()
}

func (s *MongoStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"password_hash": newHash, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if res.MatchedCount == 0 {
		return credcore.ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) UpdateAccountStatus(ctx context.Context, userID string, status credcore.AccountStatus) (credcore.UserRecord, error) {
	now := s.now().UTC()
	update := bson.M{"$set": bson.M{"status": status.String(), "updated_at": now}}
	if status == credcore.AccountDeleted {
		update["$set"].(bson.M)["deleted_at"] = now
	} else {
		update["$unset"] = bson.M{"deleted_at": ""}
	}

	var doc userDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credcore.UserRecord{}, credcore.ErrUserNotFound
		}
		return credcore.UserRecord{}, fmt.Errorf("update account status: %w", err)
	}
	return doc.record()
}

func (s *MongoStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"last_login_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if res.MatchedCount == 0 {
		return credcore.ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"verified_at": at.UTC(), "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if res.MatchedCount == 0 {
		return credcore.ErrUserNotFound
	}
	return nil
}

var _ credcore.UserProvider = (*MongoStore)(nil)
