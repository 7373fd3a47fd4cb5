package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Document is the row shape for PostgresDocStore. One row per stored JSON
// document, keyed by (collection, id).
type Document struct {
	Collection string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:64;column:id"`
	Data       []byte `gorm:"type:jsonb;not null"`
	Version    int64  `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PostgresDocStore keeps documents in a jsonb column with an integer
// version for optimistic concurrency.
type PostgresDocStore struct {
	db *gorm.DB
}

func NewPostgresDocStore(dsn string) (*PostgresDocStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &PostgresDocStore{db: db}, nil
}

func (s *PostgresDocStore) Create(ctx context.Context, collection, id string, doc []byte) error {
	record := Document{Collection: collection, ID: id, Data: doc, Version: 1}
	err := s.db.WithContext(ctx).Create(&record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresDocStore) Get(ctx context.Context, collection, id string) ([]byte, int64, error) {
	var record Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return record.Data, record.Version, nil
}

func (s *PostgresDocStore) Update(ctx context.Context, collection, id string, doc []byte, expectedVersion int64) error {
	tx := s.db.WithContext(ctx).Model(&Document{}).
		Where("collection = ? AND id = ?", collection, id)
	if expectedVersion > 0 {
		tx = tx.Where("version = ?", expectedVersion)
	}
	res := tx.Updates(map[string]interface{}{
		"data":    doc,
		"version": gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, _, err := s.Get(ctx, collection, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}
