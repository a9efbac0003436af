package db

import (
	"fmt"

	"github.com/Gokhulnath/Manus/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the store migrates.
func AllModels() []interface{} {
	return []interface{}{
		&models.Chat{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
