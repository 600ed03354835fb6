package securedata

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestHandler_Encrypt_Decrypt_RoundTrip(t *testing.T) {
	h := newTestHandler(t)

	sealed, err := h.Encrypt("the quick brown fox")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed.Ciphertext == "" || sealed.IV == "" || sealed.Tag == "" {
		t.Fatalf("Sealed has empty fields: %+v", sealed)
	}

	tag, err := base64.StdEncoding.DecodeString(sealed.Tag)
	if err != nil {
		t.Fatalf("tag is not valid base64: %v", err)
	}
	if len(tag) != 16 {
		t.Errorf("tag length = %d, want 16", len(tag))
	}

	plaintext, err := h.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "the quick brown fox" {
		t.Errorf("Decrypt() = %q, want original plaintext", plaintext)
	}
}

func TestHandler_Encrypt_FreshIVPerCall(t *testing.T) {
	h := newTestHandler(t)

	first, err := h.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := h.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first.IV == second.IV {
		t.Error("IV reused across calls")
	}
	if first.Ciphertext == second.Ciphertext {
		t.Error("identical ciphertext for identical plaintext, IV not applied")
	}
}

func TestHandler_Decrypt_FailsClosed(t *testing.T) {
	h := newTestHandler(t)

	sealed, err := h.Encrypt("sensitive")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *Sealed)
	}{
		{"tampered ciphertext", func(s *Sealed) {
			raw, _ := base64.StdEncoding.DecodeString(s.Ciphertext)
			raw[0] ^= 0xff
			s.Ciphertext = base64.StdEncoding.EncodeToString(raw)
		}},
		{"tampered tag", func(s *Sealed) {
			raw, _ := base64.StdEncoding.DecodeString(s.Tag)
			raw[0] ^= 0xff
			s.Tag = base64.StdEncoding.EncodeToString(raw)
		}},
		{"tampered IV", func(s *Sealed) {
			raw, _ := base64.StdEncoding.DecodeString(s.IV)
			raw[0] ^= 0xff
			s.IV = base64.StdEncoding.EncodeToString(raw)
		}},
		{"truncated tag", func(s *Sealed) {
			raw, _ := base64.StdEncoding.DecodeString(s.Tag)
			s.Tag = base64.StdEncoding.EncodeToString(raw[:8])
		}},
		{"wrong IV size", func(s *Sealed) {
			s.IV = base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := *sealed
			tt.mutate(&corrupted)
			plaintext, err := h.Decrypt(&corrupted)
			if !errors.Is(err, ErrDecryptFailed) {
				t.Errorf("Decrypt() error = %v, want ErrDecryptFailed", err)
			}
			if plaintext != "" {
				t.Errorf("Decrypt() leaked partial plaintext %q", plaintext)
			}
		})
	}
}

func TestHandler_Decrypt_WrongKey(t *testing.T) {
	h := newTestHandler(t)
	other := newTestHandler(t)

	sealed, err := h.Encrypt("sensitive")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt() under wrong key error = %v, want ErrDecryptFailed", err)
	}
}

func TestKeyBase64_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}

	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if string(decoded) != string(key) {
		t.Error("base64 round trip altered the key")
	}

	if _, err := KeyFromBase64("not base64!!"); err == nil {
		t.Error("KeyFromBase64() accepted invalid encoding")
	}
	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("KeyFromBase64() accepted wrong-length key")
	}
}

func TestHandler_HashData_VerifyHash(t *testing.T) {
	h := newTestHandler(t)

	hashed, err := h.HashData("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashData() error = %v", err)
	}
	if hashed.Iterations != 1000 {
		t.Errorf("Iterations = %d, want configured 1000", hashed.Iterations)
	}

	if !h.VerifyHash("correct horse battery staple", hashed) {
		t.Error("VerifyHash() rejected the original value")
	}
	if h.VerifyHash("wrong value", hashed) {
		t.Error("VerifyHash() accepted a different value")
	}
	if h.VerifyHash("correct horse battery staple", nil) {
		t.Error("VerifyHash() accepted nil stored hash")
	}

	// Same value, different salt, different hash.
	again, err := h.HashData("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashData() error = %v", err)
	}
	if again.Hash == hashed.Hash {
		t.Error("salt not applied, identical hashes for identical values")
	}
}
