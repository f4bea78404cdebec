// Package store journals modem events in a SQLite database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultLimit is used by Recent when no positive limit is given.
const DefaultLimit = 50

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("journal closed")

// Record is one journaled event.
type Record struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Kind      string          `gorm:"index;not null" json:"kind"`
	Payload   json.RawMessage `gorm:"serializer:json" json:"payload"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

// Journal is an append-only event log.
type Journal struct {
	db *gorm.DB
}

// Open creates or opens the database at path and migrates the schema.
func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append stores payload, marshaled as JSON, under kind.
func (j *Journal) Append(ctx context.Context, kind string, payload any) (Record, error) {
	if j.db == nil {
		return Record{}, ErrClosed
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	rec := Record{Kind: kind, Payload: raw}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Record{}, fmt.Errorf("append %s event: %w", kind, err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first. A non-empty kind filters
// by event kind.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Record, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := j.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var records []Record
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return records, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return ErrClosed
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	j.db = nil
	return sqlDB.Close()
}
