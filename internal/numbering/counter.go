package numbering

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DocumentSequence is the per-prefix, per-day counter row.
type DocumentSequence struct {
	Prefix    string    `gorm:"primaryKey;column:prefix"`
	Day       string    `gorm:"primaryKey;column:day"`
	LastValue int64     `gorm:"column:last_value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (DocumentSequence) TableName() string { return "document_sequences" }

// CounterStore increments per-day counters atomically in the database.
type CounterStore struct {
	db *gorm.DB
}

func NewCounterStore(db *gorm.DB) *CounterStore {
	return &CounterStore{db: db}
}

// Next bumps the counter for (prefix, day) and returns the new value.
// The increment runs on its own statement so a failed document insert
// leaves a gap rather than a reused value.
func (s *CounterStore) Next(ctx context.Context, prefix, day string, now time.Time) (int64, error) {
	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO document_sequences (prefix, day, last_value, updated_at)
			 VALUES (?, ?, 0, ?)
			 ON CONFLICT (prefix, day) DO NOTHING`,
			prefix, day, now,
		).Error; err != nil {
			return err
		}
		return tx.Raw(
			`UPDATE document_sequences
			 SET last_value = last_value + 1, updated_at = ?
			 WHERE prefix = ? AND day = ?
			 RETURNING last_value`,
			now, prefix, day,
		).Scan(&next).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Current returns the last issued value, or 0 when the day has no counter yet.
func (s *CounterStore) Current(ctx context.Context, prefix, day string) (int64, error) {
	var current int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(last_value), 0) FROM document_sequences WHERE prefix = ? AND day = ?`,
		prefix, day,
	).Scan(&current).Error
	return current, err
}
