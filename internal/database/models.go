package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversionRecord is one dithering run, successful or not
type ConversionRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Source      string         `gorm:"not null" json:"source"`
	Output      string         `json:"output,omitempty"`
	Format      string         `gorm:"size:16" json:"format"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	WhitePixels int            `json:"white_pixels"`
	BlackPixels int            `json:"black_pixels"`
	DurationMs  int64          `json:"duration_ms"`
	Options     datatypes.JSON `json:"options,omitempty"`
	Error       string         `gorm:"column:error_message" json:"error,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate sets UUID if not already set
func (r *ConversionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Succeeded reports whether the run produced an image
func (r *ConversionRecord) Succeeded() bool {
	return r.Error == ""
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&ConversionRecord{},
	}
}
