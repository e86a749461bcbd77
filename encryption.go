package lexibase

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptionBackend wraps any backend with AES-256-GCM encryption at rest.
// Each blob is stored as nonce || ciphertext.
//
//	key, _ := lexibase.ParseEncryptionKey(os.Getenv("LEXIBASE_ENCRYPTION_KEY"))
//	records, _ := lexibase.NewEncryptionBackend(lexibase.NewFilesystemBackend(dir), key)
type EncryptionBackend struct {
	Backend
	aead cipher.AEAD
}

// NewEncryptionBackend wraps a backend. Key must be exactly 32 bytes.
func NewEncryptionBackend(backend Backend, key []byte) (*EncryptionBackend, error) {
	if len(key) != 32 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "encryption_key",
			"value":  fmt.Sprintf("%d bytes", len(key)),
			"reason": "AES-256 requires 32-byte key",
		})
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptionBackend{
		Backend: backend,
		aead:    aead,
	}, nil
}

// ParseEncryptionKey decodes a base64 encoded 32-byte key
func ParseEncryptionKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "encryption_key",
			"reason": "key must be base64 encoded",
		})
	}
	return key, nil
}

// Put encrypts data before storing
func (e *EncryptionBackend) Put(ctx context.Context, key string, data []byte) error {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.Backend.Put(ctx, key, e.aead.Seal(nonce, nonce, data, nil))
}

// Get decrypts data after retrieving
func (e *EncryptionBackend) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.Backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "ciphertext too short",
		})
	}

	plaintext, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "decryption failed",
		})
	}
	return plaintext, nil
}
