package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	subs    *subscribers

	// FailWith, when set, is returned (wrapped in ErrUnavailable) by every call.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), subs: newSubscribers()}
}

func (s *MemoryStore) Get(ctx context.Context, key string, initial any) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, s.FailWith)
	}
	if e, ok := s.entries[key]; ok {
		return e, nil
	}
	raw, err := encode(key, initial)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: raw}, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, expectedVersion int64, schemaVersion int, value any) (Entry, error) {
	raw, err := encode(key, value)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	if s.FailWith != nil {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, s.FailWith)
	}
	cur := s.entries[key]
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%s: %w: expected version %d, have %d", key, ErrVersionConflict, expectedVersion, cur.Version)
	}
	e := Entry{
		Key:           key,
		Value:         raw,
		SchemaVersion: schemaVersion,
		Version:       expectedVersion + 1,
		UpdatedAt:     time.Now().UTC(),
	}
	s.entries[key] = e
	s.mu.Unlock()

	s.subs.publish(e)
	return e, nil
}

func (s *MemoryStore) Subscribe(key string) (<-chan Entry, func()) {
	return s.subs.add(key)
}
