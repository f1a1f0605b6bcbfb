package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process backend. It is used standalone in tests and
// as the emergency fallback when Redis is unreachable. It does not survive
// restarts and ignores TTLs. That is acceptable for an emergency mode whose
// only job is keeping the process alive and consistent with itself.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Backend returns "memory".
func (s *MemoryStore) Backend() string {
	return "memory"
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// GetJSON reads the value stored under name. Values round-trip through JSON
// so callers cannot accidentally share mutable state with the store.
func (s *MemoryStore) GetJSON(ctx context.Context, name string, out interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("memory get %s: decode: %w", name, err)
	}
	return true, nil
}

// SetJSON stores the value under name. The TTL is ignored.
func (s *MemoryStore) SetJSON(ctx context.Context, name string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory set %s: encode: %w", name, err)
	}
	s.mu.Lock()
	s.data[name] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes the key.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.data, name)
	s.mu.Unlock()
	return nil
}
