package db

import (
	"fmt"

	"github.com/zulandar/almanac/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Record{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// ResetTables drops every table in AllModels and migrates them again.
func ResetTables(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}

// CountRecords returns the number of stored records per kind.
func CountRecords(db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	if err := db.Model(&models.Record{}).Select("kind, count(*) as count").
		Group("kind").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: count records: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Kind] = r.Count
	}
	return counts, nil
}
