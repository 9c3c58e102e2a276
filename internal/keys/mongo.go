package keys

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcore/internal/crypto/hybrid"
	"chatcore/internal/domain/chat"
)

// MongoStore persists versioned key pairs in a single collection keyed by
// (user_id, version).
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	col := db.Collection("encryption_keys")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "version", Value: -1}},
		Options: options.Index().SetUnique(true),
	}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &MongoStore{col: col}
}

var _ Store = (*MongoStore)(nil)

func (s *MongoStore) Ensure(ctx context.Context, userID string) (KeyPair, error) {
	pair, err := s.active(ctx, userID)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, chat.ErrKeyUnavailable) {
		return KeyPair{}, err
	}
	return s.issue(ctx, userID, 1)
}

func (s *MongoStore) ActivePublicKey(ctx context.Context, userID string) (hybrid.PublicKey, error) {
	pair, err := s.active(ctx, userID)
	if err != nil {
		return hybrid.PublicKey{}, err
	}
	return hybrid.PublicKey{Bytes: pair.PublicKey, Version: pair.Version}, nil
}

func (s *MongoStore) PrivateKey(ctx context.Context, userID string, version int) ([]byte, error) {
	var pair KeyPair
	err := s.col.FindOne(ctx, bson.M{"user_id": userID, "version": version}).Decode(&pair)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrKeyUnavailable
		}
		return nil, err
	}
	return pair.PrivateKey, nil
}

func (s *MongoStore) Rotate(ctx context.Context, userID string) (KeyPair, error) {
	version := 1
	if current, err := s.active(ctx, userID); err == nil {
		version = current.Version + 1
	} else if !errors.Is(err, chat.ErrKeyUnavailable) {
		return KeyPair{}, err
	}
	return s.issue(ctx, userID, version)
}

func (s *MongoStore) active(ctx context.Context, userID string) (KeyPair, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var pair KeyPair
	err := s.col.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&pair)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return KeyPair{}, chat.ErrKeyUnavailable
		}
		return KeyPair{}, err
	}
	return pair, nil
}

func (s *MongoStore) issue(ctx context.Context, userID string, version int) (KeyPair, error) {
	priv, pub, err := hybrid.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	pair := KeyPair{
		UserID:     userID,
		Version:    version,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.col.InsertOne(ctx, pair); err != nil {
		return KeyPair{}, err
	}
	return pair, nil
}
