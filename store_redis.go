package proxypay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Default keys for redis-backed storage.
const (
	DefaultStateKey    = "paypal_proxy:payment_data"
	DefaultNoncePrefix = "paypal_proxy:nonce:"
)

// RedisStateStore persists the tracker state as a single JSON blob, the
// shared-settings-store analog for multi-process deployments.
type RedisStateStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStateStore creates a state store over the given redis client.
// An empty key selects DefaultStateKey.
func NewRedisStateStore(client redis.Cmdable, key string) *RedisStateStore {
	if key == "" {
		key = DefaultStateKey
	}
	return &RedisStateStore{client: client, key: key}
}

// Load fetches and decodes the state blob, or returns (nil, nil) when the
// key does not exist.
func (s *RedisStateStore) Load(ctx context.Context) (*TrackerState, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker state: %w", err)
	}
	state := NewTrackerState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("failed to decode tracker state: %w", err)
	}
	return state, nil
}

// Save encodes and writes the full state blob.
func (s *RedisStateStore) Save(ctx context.Context, state *TrackerState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode tracker state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save tracker state: %w", err)
	}
	return nil
}

// RedisNonceStore records used webhook nonces as expiring keys. SET NX makes
// the check-and-record step atomic across processes.
type RedisNonceStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisNonceStore creates a nonce store. An empty prefix selects
// DefaultNoncePrefix; TTL zero retains nonces indefinitely.
func NewRedisNonceStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisNonceStore {
	if prefix == "" {
		prefix = DefaultNoncePrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix, ttl: ttl}
}

// MarkUsed records the nonce and reports whether it was already present.
func (s *RedisNonceStore) MarkUsed(ctx context.Context, nonce string) (bool, error) {
	set, err := s.client.SetNX(ctx, s.prefix+nonce, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return !set, nil
}

// Ensure implementations satisfy the store interfaces
var (
	_ StateStore = (*RedisStateStore)(nil)
	_ NonceStore = (*RedisNonceStore)(nil)
)
