// Package store is the persisted key-value repository behind every dashboard
// collection. Writes are compare-and-swap on a per-key version so concurrent
// writers cannot silently clobber each other.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a record id is absent from a collection.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a compare-and-swap lost a race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnavailable wraps every failure of the underlying datastore.
	ErrUnavailable = errors.New("store unavailable")

	// ErrSchemaVersion is returned when a stored value was written by a newer schema.
	ErrSchemaVersion = errors.New("stored schema version is newer than supported")
)

// Entry is a stored value with its concurrency token.
type Entry struct {
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
	SchemaVersion int             `json:"schemaVersion"`
	Version       int64           `json:"version"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store is a durable per-key cache with an initial-value fallback.
type Store interface {
	// Get returns the stored entry, or initial encoded as JSON at version 0
	// when the key has never been written.
	Get(ctx context.Context, key string, initial any) (Entry, error)

	// Set writes value if the stored version equals expectedVersion.
	// expectedVersion 0 creates the key.
	Set(ctx context.Context, key string, expectedVersion int64, schemaVersion int, value any) (Entry, error)

	// Subscribe returns a channel of subsequent writes to key and a cancel func.
	Subscribe(key string) (<-chan Entry, func())
}

const maxUpdateAttempts = 5

// Update performs a read-modify-write of key, retrying when another writer won the race.
// fn receives the current raw value and returns the value to store.
func Update(ctx context.Context, s Store, key string, schemaVersion int, initial any, fn func(raw json.RawMessage) (any, error)) (Entry, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := s.Get(ctx, key, initial)
		if err != nil {
			return Entry{}, err
		}
		if cur.SchemaVersion > schemaVersion {
			return Entry{}, fmt.Errorf("%s: %w (%d > %d)", key, ErrSchemaVersion, cur.SchemaVersion, schemaVersion)
		}
		next, err := fn(cur.Value)
		if err != nil {
			return Entry{}, err
		}
		written, err := s.Set(ctx, key, cur.Version, schemaVersion, next)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Entry{}, err
		}
		lastErr = err
	}
	return Entry{}, fmt.Errorf("%s: gave up after %d attempts: %w", key, maxUpdateAttempts, lastErr)
}

func encode(key string, v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	return b, nil
}

// subscribers fans out writes without blocking the writer.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Entry
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[string]map[int]chan Entry)}
}

func (s *subscribers) add(key string) (<-chan Entry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan Entry, 8)
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]chan Entry)
	}
	s.subs[key][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			close(ch)
		})
	}
}

func (s *subscribers) publish(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[e.Key] {
		select {
		case ch <- e:
		default:
			// slow subscriber; drop rather than block the writer
		}
	}
}
