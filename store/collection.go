package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection stores a []T under a single key, the way the dashboard keeps
// each feature's working set.
type Collection[T any] struct {
	store         Store
	key           string
	schemaVersion int
	idOf          func(T) string
}

// NewCollection binds a typed list to key. idOf extracts the record id.
func NewCollection[T any](s Store, key string, schemaVersion int, idOf func(T) string) *Collection[T] {
	return &Collection[T]{store: s, key: key, schemaVersion: schemaVersion, idOf: idOf}
}

// Key returns the store key of the collection.
func (c *Collection[T]) Key() string { return c.key }

func (c *Collection[T]) decode(raw json.RawMessage) ([]T, error) {
	items := []T{}
	if len(raw) == 0 || string(raw) == "null" {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.key, err)
	}
	return items, nil
}

// List returns every record.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	e, err := c.store.Get(ctx, c.key, []T{})
	if err != nil {
		return nil, err
	}
	if e.SchemaVersion > c.schemaVersion {
		return nil, fmt.Errorf("%s: %w (%d > %d)", c.key, ErrSchemaVersion, e.SchemaVersion, c.schemaVersion)
	}
	return c.decode(e.Value)
}

// Find returns the record with id or ErrNotFound.
func (c *Collection[T]) Find(ctx context.Context, id string) (T, error) {
	var zero T
	items, err := c.List(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if c.idOf(item) == id {
			return item, nil
		}
	}
	return zero, fmt.Errorf("%s %s: %w", c.key, id, ErrNotFound)
}

// Replace rewrites the whole list through fn under compare-and-swap.
// fn may be invoked more than once when writers race.
func (c *Collection[T]) Replace(ctx context.Context, fn func([]T) ([]T, error)) ([]T, error) {
	var result []T
	_, err := Update(ctx, c.store, c.key, c.schemaVersion, []T{}, func(raw json.RawMessage) (any, error) {
		items, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		result = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Insert appends item.
func (c *Collection[T]) Insert(ctx context.Context, item T) error {
	_, err := c.Replace(ctx, func(items []T) ([]T, error) {
		return append(items, item), nil
	})
	return err
}

// Mutate applies fn to the record with id and stores the result.
func (c *Collection[T]) Mutate(ctx context.Context, id string, fn func(*T) error) (T, error) {
	var updated T
	_, err := c.Replace(ctx, func(items []T) ([]T, error) {
		for i := range items {
			if c.idOf(items[i]) != id {
				continue
			}
			if err := fn(&items[i]); err != nil {
				return nil, err
			}
			updated = items[i]
			return items, nil
		}
		return nil, fmt.Errorf("%s %s: %w", c.key, id, ErrNotFound)
	})
	return updated, err
}
