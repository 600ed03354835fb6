package securedata

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultHashIterations is the PBKDF2 iteration count. Intentionally
	// slow: this hash exists for verification, not bulk throughput.
	DefaultHashIterations = 100_000

	// hashSaltSize is the per-call random salt length in bytes.
	hashSaltSize = 16

	// hashKeySize is the derived key length in bytes.
	hashKeySize = 32
)

// Hashed is a salted, iterated hash of a value, storable alongside the
// salt so it can be verified later without the original.
type Hashed struct {
	Hash       string `json:"hash"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

// HashData derives a PBKDF2-SHA256 hash of value under a fresh random salt.
func (h *Handler) HashData(value string) (*Hashed, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(value), salt, h.iterations, hashKeySize, sha256.New)

	return &Hashed{
		Hash:       hex.EncodeToString(derived),
		Salt:       hex.EncodeToString(salt),
		Iterations: h.iterations,
	}, nil
}

// VerifyHash recomputes the derivation with the stored salt and iteration
// count and compares in constant time.
func (h *Handler) VerifyHash(value string, stored *Hashed) bool {
	if stored == nil {
		return false
	}

	salt, err := hex.DecodeString(stored.Salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(stored.Hash)
	if err != nil {
		return false
	}

	iterations := stored.Iterations
	if iterations <= 0 {
		return false
	}

	derived := pbkdf2.Key([]byte(value), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(derived, want) == 1
}
