// Package valkey provides a Valkey-backed TokenVault for distributed
// deployments. Entry expiry is delegated to the server's native TTL
// handling, so no sweep goroutine is needed.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/sentinelhq/sentinel/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "sentinel:vault:"

	// connectionVerifyTimeout is the timeout for initial connection
	// verification.
	connectionVerifyTimeout = 5 * time.Second

	// MaxValueSize is the maximum size of a stored value (64 KiB).
	// This prevents memory exhaustion from oversized tokenization payloads.
	MaxValueSize = 64 * 1024
)

// Config holds configuration for the Valkey vault backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "sentinel:vault:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Vault is a Valkey-backed TokenVault.
type Vault struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

var _ storage.TokenVault = (*Vault)(nil)

// New creates a Valkey-backed vault and verifies the connection.
func New(cfg Config) (*Vault, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
		TLSConfig:   cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to verify valkey connection: %w", err)
	}

	logger.Info("connected to valkey vault backend", "address", cfg.Address)

	return &Vault{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (v *Vault) key(token string) string {
	return v.prefix + token
}

// Put stores value under token with the server enforcing the TTL.
func (v *Vault) Put(ctx context.Context, token string, value []byte, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("value exceeds maximum size of %d bytes", MaxValueSize)
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	err := v.client.Do(ctx,
		v.client.B().Set().Key(v.key(token)).Value(string(value)).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Get returns the value for token, or storage.ErrTokenNotFound once the
// server has expired it.
func (v *Vault) Get(ctx context.Context, token string) ([]byte, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(token)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return []byte(data), nil
}

// Delete removes the token immediately.
func (v *Vault) Delete(ctx context.Context, token string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.key(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Size returns the number of live entries under the vault prefix.
// This requires a SCAN over the keyspace and is intended for monitoring,
// not hot paths.
func (v *Vault) Size() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	var total int64
	var cursor uint64
	for {
		entry, err := v.client.Do(ctx,
			v.client.B().Scan().Cursor(cursor).Match(v.prefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			v.logger.Warn("valkey vault size scan failed", "error", err)
			return -1
		}
		total += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return total
}

// Close releases the client connection.
func (v *Vault) Close() error {
	v.client.Close()
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey. Uses the valkey-go library's built-in nil detection.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
