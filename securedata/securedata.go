// Package securedata classifies payload sensitivity and applies the
// protections the classification demands: masking, tokenization, salted
// iterated hashing, and authenticated encryption.
//
// Classification is keyword-driven and deterministic: the same payload
// always lands in the same tier. Handling stages run in a fixed order
// (hash, mask, tokenize, encrypt) so later stages always operate on the
// already-protected form, never the raw value.
package securedata

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/audit"
	"github.com/sentinelhq/sentinel/instrumentation"
	"github.com/sentinelhq/sentinel/storage"
	"github.com/sentinelhq/sentinel/storage/memory"
)

// Level is a data sensitivity tier.
type Level string

const (
	LevelPublic       Level = "public"
	LevelInternal     Level = "internal"
	LevelConfidential Level = "confidential"
	LevelRestricted   Level = "restricted"
)

// Handling is one protection applied to a classified value.
type Handling string

const (
	HandlingEncryption   Handling = "encryption"
	HandlingMasking      Handling = "masking"
	HandlingTokenization Handling = "tokenization"
	HandlingHashing      Handling = "hashing"
)

// Classification pairs a sensitivity level with its required protections.
type Classification struct {
	Level    Level
	Handling []Handling
}

// Has reports whether the classification requires the given handling.
func (c Classification) Has(h Handling) bool {
	for _, v := range c.Handling {
		if v == h {
			return true
		}
	}
	return false
}

// Keyword tiers, checked restricted → confidential → internal. The first
// matching tier wins.
var (
	restrictedTerms = []string{
		"passport", "ssn", "social security", "driver license",
		"drivers license", "national id", "tax id",
	}
	confidentialTerms = []string{
		"credit card", "creditcard", "card number", "cvv", "bank account",
		"iban", "routing number", "password", "secret", "api key",
		"apikey", "token", "credential",
	}
	internalTerms = []string{
		"email", "phone", "address", "birth", "zip code", "postal",
	}
)

// DefaultTokenTTL is how long a tokenized value stays reachable.
const DefaultTokenTTL = time.Hour

// ErrTokenNotFound is returned by Detokenize for unknown or expired tokens.
var ErrTokenNotFound = storage.ErrTokenNotFound

// Config holds secure data handler configuration.
type Config struct {
	// Key is the 32-byte AES-256 key for authenticated encryption.
	// If empty, the handler generates its own ephemeral key.
	Key []byte

	// Vault stores tokenized values. If nil, an in-memory vault owned by
	// the handler is created.
	Vault storage.TokenVault

	// TokenTTL is how long tokenized values stay reachable (default 1h).
	TokenTTL time.Duration

	// HashIterations is the PBKDF2 iteration count (default 100,000).
	HashIterations int

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger

	// Audit, when set, receives a DATA_ACCESS event for each handle,
	// detokenize, and decrypt call.
	Audit *audit.Logger

	// Instrumentation is optional. When nil, metrics are no-ops.
	Instrumentation *instrumentation.Instrumentation
}

// Handler applies classification-driven data protection.
type Handler struct {
	key        []byte
	vault      storage.TokenVault
	ownsVault  bool
	tokenTTL   time.Duration
	iterations int
	logger     *slog.Logger
	auditLog   *audit.Logger
	metrics    *instrumentation.Metrics
}

// New creates a secure data handler.
func New(cfg Config) (*Handler, error) {
	key := cfg.Key
	if len(key) == 0 {
		generated, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
	} else if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", keySize, len(key))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	vault := cfg.Vault
	ownsVault := false
	if vault == nil {
		vault = memory.NewVault(logger)
		ownsVault = true
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	iterations := cfg.HashIterations
	if iterations <= 0 {
		iterations = DefaultHashIterations
	}

	h := &Handler{
		key:        key,
		vault:      vault,
		ownsVault:  ownsVault,
		tokenTTL:   ttl,
		iterations: iterations,
		logger:     logger,
		auditLog:   cfg.Audit,
	}
	if cfg.Instrumentation != nil {
		h.metrics = cfg.Instrumentation.Metrics()
	}
	return h, nil
}

// Close releases the vault if the handler owns it.
func (h *Handler) Close() error {
	if h.ownsVault {
		return h.vault.Close()
	}
	return nil
}

// Classify derives the payload's sensitivity tier from its content.
// The classification is recomputed per call and never persisted.
func (h *Handler) Classify(payload any) Classification {
	lowered := strings.ToLower(stringify(payload))

	switch {
	case containsAny(lowered, restrictedTerms):
		return Classification{
			Level:    LevelRestricted,
			Handling: []Handling{HandlingEncryption, HandlingMasking},
		}
	case containsAny(lowered, confidentialTerms):
		return Classification{
			Level:    LevelConfidential,
			Handling: []Handling{HandlingEncryption, HandlingTokenization},
		}
	case containsAny(lowered, internalTerms):
		return Classification{
			Level:    LevelInternal,
			Handling: []Handling{HandlingMasking},
		}
	default:
		return Classification{Level: LevelPublic}
	}
}

// Handle classifies the payload and applies the required protections.
func (h *Handler) Handle(ctx context.Context, payload any) (any, Classification, error) {
	cls := h.Classify(payload)
	out, err := h.HandleClassified(ctx, payload, cls)
	return out, cls, err
}

// HandleClassified applies an explicit classification's handling set in
// fixed order: hash, then mask, then tokenize, then encrypt. Later stages
// operate on the output of earlier ones, never the raw payload.
func (h *Handler) HandleClassified(ctx context.Context, payload any, cls Classification) (any, error) {
	current := payload

	if cls.Has(HandlingHashing) {
		hashed, err := h.HashData(stringify(current))
		if err != nil {
			return nil, err
		}
		current = hashed
	}

	if cls.Has(HandlingMasking) {
		switch v := current.(type) {
		case string:
			current = h.MaskData(v)
		case map[string]any:
			current = h.MaskFields(v)
		default:
			current = h.MaskData(stringify(v))
		}
	}

	if cls.Has(HandlingTokenization) {
		token, err := h.Tokenize(ctx, stringify(current))
		if err != nil {
			return nil, err
		}
		current = token
	}

	if cls.Has(HandlingEncryption) {
		sealed, err := h.Encrypt(stringify(current))
		if err != nil {
			return nil, err
		}
		current = sealed
	}

	h.logAccess("handle_data", string(cls.Level), nil)
	h.metrics.RecordDataHandled(ctx, string(cls.Level))

	return current, nil
}

// Tokenize stores the raw value in the vault under a fresh opaque token.
// The value becomes unreachable once the TTL elapses.
func (h *Handler) Tokenize(ctx context.Context, value string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := h.vault.Put(ctx, token, []byte(value), h.tokenTTL); err != nil {
		return "", fmt.Errorf("failed to tokenize value: %w", err)
	}
	h.metrics.RecordTokenization(ctx, "tokenize")
	return token, nil
}

// Detokenize resolves a token back to its raw value. Unknown and expired
// tokens fail identically; there is no default value.
func (h *Handler) Detokenize(ctx context.Context, token string) (string, error) {
	value, err := h.vault.Get(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.logAccess("detokenize", "", map[string]any{"outcome": "not_found"})
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to detokenize: %w", err)
	}
	h.logAccess("detokenize", "", nil)
	h.metrics.RecordTokenization(ctx, "detokenize")
	return string(value), nil
}

// logAccess emits a DATA_ACCESS audit event when an audit logger is wired.
func (h *Handler) logAccess(action, level string, details map[string]any) {
	if h.auditLog == nil {
		return
	}
	if level != "" {
		if details == nil {
			details = make(map[string]any)
		}
		details["classification"] = level
	}
	h.auditLog.Log(audit.Event{
		Type:    audit.TypeDataAccess,
		Action:  action,
		Details: details,
	})
}

// newToken builds an opaque vault token from 16 bytes of entropy.
func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return "tok_" + hex.EncodeToString(b), nil
}

// stringify reduces any payload to its string form: strings pass through,
// everything else is JSON-serialized.
func stringify(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprint(payload)
		}
		return string(b)
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
