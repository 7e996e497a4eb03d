package sqlite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values written by a keyed sealer. Values without it are
// returned as stored, so rows written before a key was configured stay readable.
const sealedPrefix = "enc:v1:"

// ErrSealedWithoutKey is returned when a sealed value is read by a repository
// constructed without a key.
var ErrSealedWithoutKey = errors.New("value is encrypted but no secret key is configured")

// fieldSealer encrypts individual column values with AES-256-GCM. A nil key
// disables sealing and values pass through unchanged.
type fieldSealer struct {
	key []byte
}

func newFieldSealer(key []byte) (*fieldSealer, error) {
	if key != nil && len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}
	return &fieldSealer{key: key}, nil
}

// seal encrypts plaintext and returns the prefixed base64 form containing the
// nonce (12 bytes) prepended to the ciphertext.
func (s *fieldSealer) seal(plaintext string) (string, error) {
	if s.key == nil {
		return plaintext, nil
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// open reverses seal. Unprefixed values are returned as stored.
func (s *fieldSealer) open(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored, nil
	}
	if s.key == nil {
		return "", ErrSealedWithoutKey
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (s *fieldSealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
