package securedata

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// keySize is the AES-256 key length in bytes.
	keySize = 32

	// tagSize is the GCM authentication tag length in bytes.
	tagSize = 16
)

// ErrDecryptFailed is returned when authenticated decryption fails. A tag
// mismatch means the ciphertext or tag was tampered with; no partial
// plaintext is ever returned.
var ErrDecryptFailed = errors.New("decryption failed: authentication tag mismatch")

// Sealed is the result of authenticated encryption. All fields are
// standard base64.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"authTag"`
}

// Encrypt seals plaintext with AES-256-GCM under the handler's key.
// A fresh random IV is generated per call.
func (h *Handler) Encrypt(plaintext string) (*Sealed, error) {
	start := time.Now()
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; split them so the caller
	// stores and transports the pieces separately.
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	h.metrics.RecordEncryption(context.Background(), "encrypt", time.Since(start))

	return &Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens a Sealed value, verifying the authentication tag before
// returning any plaintext. It fails closed: a tampered ciphertext, IV, or
// tag yields ErrDecryptFailed and nothing else.
func (h *Handler) Decrypt(s *Sealed) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nothing to decrypt")
	}
	start := time.Now()

	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil {
		return "", fmt.Errorf("invalid IV encoding: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(s.Tag)
	if err != nil {
		return "", fmt.Errorf("invalid tag encoding: %w", err)
	}
	if len(tag) != tagSize {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(h.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		h.logAccess("decrypt", "", map[string]any{"outcome": "integrity_failure"})
		h.metrics.RecordIntegrityViolation(context.Background(), "aead_tag_mismatch")
		return "", ErrDecryptFailed
	}

	h.logAccess("decrypt", "", nil)
	h.metrics.RecordEncryption(context.Background(), "decrypt", time.Since(start))
	return string(plaintext), nil
}

// GenerateKey generates a new 32-byte encryption key for AES-256.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes an encryption key to base64.
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
