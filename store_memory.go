package proxypay

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore keeps the tracker state in process memory.
//
// Suitable for single-instance deployments and tests. For load-balanced
// deployments where several processes share one tracker, use RedisStateStore
// so state lives in a shared backend.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *TrackerState
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a private copy of the stored state, or (nil, nil) when
// nothing has been saved yet.
func (s *MemoryStateStore) Load(ctx context.Context) (*TrackerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	return s.state.Clone(), nil
}

// Save stores a private copy of the state.
func (s *MemoryStateStore) Save(ctx context.Context, state *TrackerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	return nil
}

// MemoryNonceStore records used webhook nonces in process memory.
//
// A non-zero TTL bounds retention: a nonce older than the window is evicted
// and its slot may be reused. TTL zero retains nonces for the life of the
// process, matching the original unbounded behavior.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryNonceStore creates a nonce store with the given retention window.
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// MarkUsed records the nonce and reports whether it was already present.
func (s *MemoryNonceStore) MarkUsed(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.ttl > 0 {
		s.evictExpiredLocked(now)
	}

	if _, exists := s.seen[nonce]; exists {
		return true, nil
	}
	s.seen[nonce] = now
	return false, nil
}

// evictExpiredLocked removes nonces older than the TTL. Must be called with
// the lock held.
func (s *MemoryNonceStore) evictExpiredLocked(now time.Time) {
	for nonce, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, nonce)
		}
	}
}

// Ensure implementations satisfy the store interfaces
var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ NonceStore = (*MemoryNonceStore)(nil)
)
