package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher protects session credentials at rest with AES-256-GCM.
//
// Each Seal call draws a random nonce. The optional associated data (the
// deployment's configured IV) is authenticated but not stored, so records
// sealed under one deployment cannot be opened under another that shares
// the key but not the IV.
//
// A nil or keyless Cipher is a passthrough that only base64-encodes. That
// mode exists for local development.
type Cipher struct {
	key []byte
	aad []byte
}

// NewCipher creates a Cipher. An empty key disables encryption.
func NewCipher(key, associatedData []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d bytes", KeySize, len(key))
	}
	return &Cipher{
		key: append([]byte(nil), key...),
		aad: append([]byte(nil), associatedData...),
	}, nil
}

// Enabled reports whether the cipher encrypts.
func (c *Cipher) Enabled() bool {
	return c != nil && len(c.key) > 0
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	if !c.Enabled() {
		return base64.StdEncoding.EncodeToString(plaintext), nil
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, c.aad)), nil
}

// Open reverses Seal.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	if !c.Enabled() {
		return raw, nil
	}

	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, c.aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64 key from configuration.
// An empty string yields a nil key, which disables encryption.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d bytes", KeySize, len(key))
	}
	return key, nil
}

// IVFromBase64 decodes the configured initialization vector. It must be 12
// or 16 bytes when set.
func IVFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	iv, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 iv: %w", err)
	}
	if len(iv) != 12 && len(iv) != 16 {
		return nil, fmt.Errorf("encryption iv must be 12 or 16 bytes, got %d bytes", len(iv))
	}
	return iv, nil
}
