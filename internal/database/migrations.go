package database

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// RunMigrations runs any pending database migrations using gormigrate
func RunMigrations(db *gorm.DB) error {
	logging.DebugWithComponent(logging.ComponentDatabase, "Running database migrations")

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202610170000_create_conversion_records",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(GetAllModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("conversion_records")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return err
	}

	logging.DebugWithComponent(logging.ComponentDatabase, "Database migrations completed")
	return nil
}
