// Package hybrid implements the message encryption scheme: each message body
// is sealed once with a fresh random symmetric key, and that key is wrapped
// per recipient under their X25519 public key. A fresh key per message means
// nonce reuse under one key cannot occur by construction.
package hybrid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"chatcore/internal/domain/chat"
)

const contentKeySize = 32

var wrapInfo = []byte("chatcore key wrap v1")

// PublicKey is recipient key material plus the key
// version that produced it.
type PublicKey struct {
	Bytes   []byte
	Version int
}

// Envelope is the result of encrypting one message: a single ciphertext body
// shared by every recipient, plus one wrapped content key per recipient.
type Envelope struct {
	Ciphertext  []byte
	WrappedKeys map[string]chat.WrappedKey
}

// Encrypt seals plaintext with a fresh content key and wraps that key for
// every recipient. A missing or invalid recipient key fails the whole call
// before anything is persisted; a recipient is never silently dropped.
func Encrypt(plaintext []byte, recipients map[string]PublicKey) (Envelope, error) {
	if len(recipients) == 0 {
		return Envelope{}, fmt.Errorf("%w: no recipients", chat.ErrKeyUnavailable)
	}
	contentKey := make([]byte, contentKeySize)
	if _, err := io.ReadFull(rand.Reader, contentKey); err != nil {
		return Envelope{}, fmt.Errorf("hybrid: content key generation: %w", err)
	}
	ciphertext, err := aeadSeal(contentKey, plaintext)
	if err != nil {
		return Envelope{}, err
	}
	wrapped := make(map[string]chat.WrappedKey, len(recipients))
	for id, pub := range recipients {
		if len(pub.Bytes) == 0 {
			return Envelope{}, fmt.Errorf("%w: recipient %s", chat.ErrKeyUnavailable, id)
		}
		blob, err := wrapKey(contentKey, pub.Bytes)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: recipient %s: %v", chat.ErrKeyUnavailable, id, err)
		}
		wrapped[id] = chat.WrappedKey{Key: blob, KeyVersion: pub.Version}
	}
	return Envelope{Ciphertext: ciphertext, WrappedKeys: wrapped}, nil
}

// Decrypt unwraps the content key with the recipient's private key and opens
// the ciphertext body.
func Decrypt(ciphertext, wrappedKey, privateKey []byte) ([]byte, error) {
	contentKey, err := unwrapKey(wrappedKey, privateKey)
	if err != nil {
		return nil, err
	}
	return aeadOpen(contentKey, ciphertext)
}

// GenerateKeyPair returns a new X25519 pair as raw bytes.
func GenerateKeyPair() (privateKey, publicKey []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid: keygen: %w", err)
	}
	return priv.Bytes(), priv.PublicKey().Bytes(), nil
}

// wrapKey seals contentKey for one recipient: ephemeral X25519 exchange,
// HKDF-SHA256 to a KEK, AES-GCM seal. Output is ephemeralPub || nonce || box.
func wrapKey(contentKey, recipientPub []byte) ([]byte, error) {
	curve := ecdh.X25519()
	pub, err := curve.NewPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	eph, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ephemeral keygen: %w", err)
	}
	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	kek := make([]byte, contentKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, wrapInfo), kek); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	box, err := aeadSeal(kek, contentKey)
	if err != nil {
		return nil, err
	}
	return append(eph.PublicKey().Bytes(), box...), nil
}

func unwrapKey(blob, recipientPriv []byte) ([]byte, error) {
	curve := ecdh.X25519()
	priv, err := curve.NewPrivateKey(recipientPriv)
	if err != nil {
		return nil, fmt.Errorf("hybrid: invalid private key: %w", err)
	}
	const ephSize = 32
	if len(blob) <= ephSize {
		return nil, fmt.Errorf("hybrid: wrapped key too short")
	}
	ephPub, err := curve.NewPublicKey(blob[:ephSize])
	if err != nil {
		return nil, fmt.Errorf("hybrid: invalid ephemeral key: %w", err)
	}
	shared, err := priv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("hybrid: ecdh: %w", err)
	}
	kek := make([]byte, contentKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, wrapInfo), kek); err != nil {
		return nil, fmt.Errorf("hybrid: hkdf: %w", err)
	}
	return aeadOpen(kek, blob[ephSize:])
}

// aeadSeal encrypts with AES-256-GCM and a random nonce, returning
// nonce || ciphertext.
func aeadSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hybrid: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("hybrid: cipher.NewGCM: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("hybrid: nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

func aeadOpen(key, nonceAndCiphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hybrid: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("hybrid: cipher.NewGCM: %w", err)
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, fmt.Errorf("hybrid: ciphertext too short")
	}
	plain, err := aead.Open(nil, nonceAndCiphertext[:ns], nonceAndCiphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("hybrid: open: %w", err)
	}
	return plain, nil
}
