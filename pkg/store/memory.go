package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is a process-local Store. Values are kept in encoded form so
// callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string][]byte
	updates int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string, dst any) (bool, error) {
	s.mu.RLock()
	data, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, value any) error {
	if value == nil {
		return ErrNilValue
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	s.values[key] = data
	s.updates++
	s.mu.Unlock()
	return nil
}

// Updates reports how many times Update succeeded.
func (s *MemoryStore) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
