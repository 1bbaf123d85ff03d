package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps entries in the kv_entries table.
type GormStore struct {
	db   *gorm.DB
	subs *subscribers
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, subs: newSubscribers()}
}

func (s *GormStore) Get(ctx context.Context, key string, initial any) (Entry, error) {
	var row model.KVEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		raw, err := encode(key, initial)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Key: key, Value: raw}, nil
	}
	if err != nil {
		log.Printf("[GormStore.Get] Error fetching %s: %v", key, err)
		return Entry{}, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
	}
	return Entry{
		Key:           row.Key,
		Value:         json.RawMessage(row.Value),
		SchemaVersion: row.SchemaVersion,
		Version:       row.Version,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

func (s *GormStore) Set(ctx context.Context, key string, expectedVersion int64, schemaVersion int, value any) (Entry, error) {
	raw, err := encode(key, value)
	if err != nil {
		return Entry{}, err
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		row := model.KVEntry{
			Key:           key,
			Value:         datatypes.JSON(raw),
			SchemaVersion: schemaVersion,
			Version:       1,
		}
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			log.Printf("[GormStore.Set] Error creating %s: %v", key, res.Error)
			return Entry{}, fmt.Errorf("%w: creating %s: %v", ErrUnavailable, key, res.Error)
		}
		if res.RowsAffected == 0 {
			return Entry{}, fmt.Errorf("%s: %w: key already exists", key, ErrVersionConflict)
		}
		return s.written(key, raw, schemaVersion, 1, row.UpdatedAt), nil
	}

	res := s.db.WithContext(ctx).Model(&model.KVEntry{}).
		Where("entry_key = ? AND version = ?", key, expectedVersion).
		Updates(map[string]interface{}{
			"value":          datatypes.JSON(raw),
			"schema_version": schemaVersion,
			"version":        expectedVersion + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		log.Printf("[GormStore.Set] Error updating %s: %v", key, res.Error)
		return Entry{}, fmt.Errorf("%w: updating %s: %v", ErrUnavailable, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return Entry{}, fmt.Errorf("%s: %w: expected version %d", key, ErrVersionConflict, expectedVersion)
	}
	return s.written(key, raw, schemaVersion, expectedVersion+1, now), nil
}

func (s *GormStore) written(key string, raw json.RawMessage, schemaVersion int, version int64, at time.Time) Entry {
	e := Entry{Key: key, Value: raw, SchemaVersion: schemaVersion, Version: version, UpdatedAt: at}
	s.subs.publish(e)
	return e
}

func (s *GormStore) Subscribe(key string) (<-chan Entry, func()) {
	return s.subs.add(key)
}
