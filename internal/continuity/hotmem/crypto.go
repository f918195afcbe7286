package hotmem

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cortexd/runtime/internal/apperrors"
)

// cipher transparently encrypts every value the hot memory store
// writes when a key is configured, and is a no-op pass-through
// otherwise.
type cipher struct {
	key *[32]byte
}

func newCipher(base64Key string) (*cipher, error) {
	if base64Key == "" {
		return &cipher{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "hotmem.newCipher", fmt.Errorf("decode key: %w", err))
	}
	if len(raw) != 32 {
		return nil, apperrors.New(apperrors.Configuration, "hotmem.newCipher", "encryption key must be 32 bytes")
	}
	var key [32]byte
	copy(key[:], raw)
	return &cipher{key: &key}, nil
}

func (c *cipher) enabled() bool { return c.key != nil }

// seal encrypts plaintext with a fresh random nonce prefixed to the
// ciphertext, base64-encoded so values remain safe to store as Redis
// strings.
func (c *cipher) seal(plaintext []byte) (string, error) {
	if !c.enabled() {
		return string(plaintext), nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "hotmem.cipher.seal", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *cipher) open(encoded string) ([]byte, error) {
	if !c.enabled() {
		return []byte(encoded), nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "hotmem.cipher.open", fmt.Errorf("decode: %w", err))
	}
	if len(sealed) < 24 {
		return nil, apperrors.New(apperrors.Internal, "hotmem.cipher.open", "sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, c.key)
	if !ok {
		return nil, apperrors.New(apperrors.Internal, "hotmem.cipher.open", "decryption failed")
	}
	return opened, nil
}
