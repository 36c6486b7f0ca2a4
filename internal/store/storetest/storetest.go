// Package storetest provides record stores for tests.
package storetest

import (
	"testing"

	"github.com/zulandar/almanac/internal/db"
	"github.com/zulandar/almanac/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a gorm-backed store over a fresh in-memory SQLite database.
// The pool is pinned to one connection so every query sees the same
// in-memory database.
func New(t testing.TB) store.Store {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("storetest: open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("storetest: sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("storetest: migrate: %v", err)
	}
	return store.NewGorm(gormDB)
}

// NewFile returns a file-backed store in a temporary directory.
func NewFile(t testing.TB) store.Store {
	t.Helper()
	st, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("storetest: file store: %v", err)
	}
	return st
}
