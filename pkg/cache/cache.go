package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// BytesCache is a minimal cache API storing raw bytes with TTL
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key derives a cache key from a request and the version of the data it was
// answered from. Equal requests against equal data share a key.
func Key(prefix string, req any, version string) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%s:%s:%s", prefix, version, hex.EncodeToString(sum[:12])), nil
}

// Nop is a BytesCache that stores nothing
type Nop struct{}

func (Nop) GetBytes(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) SetBytes(context.Context, string, []byte, time.Duration) error { return nil }
