package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// KVEntry is one persisted key of the dashboard working set.
type KVEntry struct {
	// Key names the collection, e.g. "capa-workflows".
	Key string `gorm:"column:entry_key;primaryKey;size:128"`

	// Value is the JSON encoding of the stored collection.
	Value datatypes.JSON `gorm:"not null"`

	// SchemaVersion is the shape version of Value as written by the code.
	SchemaVersion int `gorm:"not null;default:1"`

	// Version increments on every successful write and drives compare-and-swap.
	Version int64 `gorm:"not null;default:0"`

	UpdatedAt time.Time
}

// TableName pins the table created by db/migrations.
func (KVEntry) TableName() string {
	return "kv_entries"
}

// BeforeSave is a GORM hook that stamps the write time.
func (e *KVEntry) BeforeSave(tx *gorm.DB) error {
	e.UpdatedAt = time.Now().UTC()
	return nil
}
