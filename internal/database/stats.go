package database

import (
	"gorm.io/gorm"
)

// DatabaseStats holds statistics about recorded conversions
type DatabaseStats struct {
	TotalConversions  int64 `json:"total_conversions"`
	FailedConversions int64 `json:"failed_conversions"`
	TotalPixels       int64 `json:"total_pixels"`
	WhitePixels       int64 `json:"white_pixels"`
}

// GetDatabaseStats returns database statistics
func GetDatabaseStats(db *gorm.DB) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	if err := db.Model(&ConversionRecord{}).Count(&stats.TotalConversions).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&ConversionRecord{}).Where("error_message <> ?", "").Count(&stats.FailedConversions).Error; err != nil {
		return nil, err
	}

	var sums struct {
		Pixels int64
		White  int64
	}
	if err := db.Model(&ConversionRecord{}).
		Select("COALESCE(SUM(width * height), 0) AS pixels, COALESCE(SUM(white_pixels), 0) AS white").
		Where("error_message = ?", "").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	stats.TotalPixels = sums.Pixels
	stats.WhitePixels = sums.White

	return stats, nil
}
