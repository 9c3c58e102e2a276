// Package keys holds each participant's asymmetric key pairs. Pairs are
// versioned: rotation reissues a new pair and old messages stay decryptable
// only by the version active when they were encrypted.
package keys

import (
	"context"
	"sync"
	"time"

	"chatcore/internal/crypto/hybrid"
	"chatcore/internal/domain/chat"
)

// KeyPair is one versioned pair for a participant. Private key material is
// access-controlled and never transmitted.
type KeyPair struct {
	UserID     string    `bson:"user_id"`
	Version    int       `bson:"version"`
	PublicKey  []byte    `bson:"public_key"`
	PrivateKey []byte    `bson:"private_key"`
	CreatedAt  time.Time `bson:"created_at"`
}

// Store supplies public keys for encryption and private-key-backed
// decryption capability.
type Store interface {
	// Ensure returns the participant's active pair, creating the first
	// version when none exists.
	Ensure(ctx context.Context, userID string) (KeyPair, error)
	// ActivePublicKey returns the current public key for wrapping.
	ActivePublicKey(ctx context.Context, userID string) (hybrid.PublicKey, error)
	// PrivateKey returns the private key for a specific version.
	PrivateKey(ctx context.Context, userID string, version int) ([]byte, error)
	// Rotate reissues a new pair with a bumped version.
	Rotate(ctx context.Context, userID string) (KeyPair, error)
}

// MemoryStore keeps pairs in process. Used by tests and fixture mode.
type MemoryStore struct {
	mu    sync.RWMutex
	pairs map[string][]KeyPair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pairs: make(map[string][]KeyPair)}
}

func (s *MemoryStore) Ensure(ctx context.Context, userID string) (KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if versions := s.pairs[userID]; len(versions) > 0 {
		return versions[len(versions)-1], nil
	}
	return s.issueLocked(userID)
}

func (s *MemoryStore) ActivePublicKey(ctx context.Context, userID string) (hybrid.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.pairs[userID]
	if len(versions) == 0 {
		return hybrid.PublicKey{}, chat.ErrKeyUnavailable
	}
	active := versions[len(versions)-1]
	return hybrid.PublicKey{Bytes: active.PublicKey, Version: active.Version}, nil
}

func (s *MemoryStore) PrivateKey(ctx context.Context, userID string, version int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pair := range s.pairs[userID] {
		if pair.Version == version {
			return pair.PrivateKey, nil
		}
	}
	return nil, chat.ErrKeyUnavailable
}

func (s *MemoryStore) Rotate(ctx context.Context, userID string) (KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

func (s *MemoryStore) issueLocked(userID string) (KeyPair, error) {
	priv, pub, err := hybrid.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	pair := KeyPair{
		UserID:     userID,
		Version:    len(s.pairs[userID]) + 1,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now().UTC(),
	}
	s.pairs[userID] = append(s.pairs[userID], pair)
	return pair, nil
}
