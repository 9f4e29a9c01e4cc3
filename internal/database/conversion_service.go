package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ConversionService records and queries conversion history
type ConversionService struct {
	db *gorm.DB
}

// NewConversionService creates a new conversion service
func NewConversionService(db *gorm.DB) *ConversionService {
	return &ConversionService{db: db}
}

// EncodeOptions marshals processing options for the Options column
func EncodeOptions(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// Record stores a conversion. CreatedAt is filled in when zero.
func (s *ConversionService) Record(rec *ConversionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

// List returns the most recent conversions, newest first
func (s *ConversionService) List(limit int) ([]ConversionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var records []ConversionRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	return records, nil
}

// GetByID returns a conversion by ID. gorm.ErrRecordNotFound is wrapped when
// it does not exist.
func (s *ConversionService) GetByID(id uuid.UUID) (*ConversionRecord, error) {
	var rec ConversionRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get conversion %s: %w", id, err)
	}
	return &rec, nil
}

// DeleteOlderThan prunes history older than age and returns the number of
// deleted rows
func (s *ConversionService) DeleteOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result := s.db.Where("created_at < ?", cutoff).Delete(&ConversionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune conversions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats returns aggregate history statistics
func (s *ConversionService) Stats() (*DatabaseStats, error) {
	return GetDatabaseStats(s.db)
}
