// Package sealed encrypts persisted auth values at rest.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length.
const KeySize = 32

// Versioned prefix so a later key or algorithm rotation can coexist with old values.
const prefixV1 = "v1:"

var (
	// ErrUnknownVersion is returned for values that carry an unrecognized prefix.
	ErrUnknownVersion = errors.New("sealed: unknown ciphertext version")
	errShort          = errors.New("sealed: ciphertext too short")
)

// Cipher seals values with AES-256-GCM. The storage key is bound as
// additional data, so a sealed value only opens under the key it was written to.
type Cipher struct {
	aead cipher.AEAD
}

// ParseKey accepts a 64-character hex string, standard base64, or 32 raw bytes.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if b, err := hex.DecodeString(raw); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == KeySize {
		return b, nil
	}
	if len(raw) == KeySize {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("sealed: encryption key must decode to %d bytes", KeySize)
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealed: aes-gcm key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed: init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext for storage under name.
func (c *Cipher) Seal(name, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sealed: read nonce: %w", err)
	}
	// nonce||ciphertext
	buf := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return prefixV1 + base64.StdEncoding.EncodeToString(buf), nil
}

// Open decrypts a value produced by Seal for the same name.
func (c *Cipher) Open(name, sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrUnknownVersion
	}
	data, err := base64.StdEncoding.DecodeString(sealed[len(prefixV1):])
	if err != nil {
		return "", fmt.Errorf("sealed: decode: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", errShort
	}
	pt, err := c.aead.Open(nil, data[:n], data[n:], []byte(name))
	if err != nil {
		return "", fmt.Errorf("sealed: open %s: %w", name, err)
	}
	return string(pt), nil
}

// IsSealed reports whether value carries a known ciphertext prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefixV1)
}
