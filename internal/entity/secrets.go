package entity

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cortexd/runtime/internal/apperrors"
)

// SecretBox encrypts and decrypts the values of an entity's Secrets
// map with a single system-level key, the same nacl/secretbox scheme
// the hot memory store uses for its own at-rest values.
type SecretBox struct {
	key *[32]byte
}

// NewSecretBox builds a SecretBox from an exact 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, apperrors.New(apperrors.Configuration, "entity.NewSecretBox", "secret key must be 32 bytes")
	}
	var k [32]byte
	copy(k[:], key)
	return &SecretBox{key: &k}, nil
}

// Seal encrypts plaintext with a fresh random nonce prefixed to the
// returned blob.
func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.SecretBox.Seal", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, b.key), nil
}

// Open decrypts a blob produced by Seal.
func (b *SecretBox) Open(blob []byte) ([]byte, error) {
	if len(blob) < 24 {
		return nil, apperrors.New(apperrors.Internal, "entity.SecretBox.Open", "sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], blob[:24])
	plain, ok := secretbox.Open(nil, blob[24:], &nonce, b.key)
	if !ok {
		return nil, apperrors.New(apperrors.Internal, "entity.SecretBox.Open", "decryption failed")
	}
	return plain, nil
}
