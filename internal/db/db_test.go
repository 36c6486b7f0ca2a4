package db

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/models"
	"gorm.io/datatypes"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.MySQLConfig
		wantPrefix string
	}{
		{
			name:       "default local",
			cfg:        config.MySQLConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "almanac"},
			wantPrefix: "root@tcp(127.0.0.1:3306)/almanac?",
		},
		{
			name:       "with password",
			cfg:        config.MySQLConfig{Host: "10.0.0.5", Port: 3307, User: "alm", Password: "pw", Database: "almanac_prod"},
			wantPrefix: "alm:pw@tcp(10.0.0.5:3307)/almanac_prod?",
		},
		{
			name:       "server level",
			cfg:        config.MySQLConfig{Host: "db.internal", Port: 3306, User: "root"},
			wantPrefix: "root@tcp(db.internal:3306)/?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("DSN() = %q, want prefix %q", got, tt.wantPrefix)
			}
			if !strings.Contains(got, "parseTime=true") {
				t.Errorf("DSN missing parseTime=true: %s", got)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "file"})
	if err == nil {
		t.Fatal("expected error for non-database driver")
	}
	if !strings.Contains(err.Error(), `db: driver "file" is not a database driver`) {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConnect_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect(config.MySQLConfig{Host: "127.0.0.1", Port: 1, User: "root", Database: "nonexistent"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 1 {
		t.Errorf("AllModels() returned %d models, want 1", got)
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	gormDB, err := Open(config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if !gormDB.Migrator().HasTable(&models.Record{}) {
		t.Fatal("records table not created")
	}

	now := time.Now()
	for _, r := range []models.Record{
		{Kind: "draft", OrgID: "a", SubKey: "health", Data: datatypes.JSON(`{}`), Version: 1, UpdatedAt: now},
		{Kind: "draft", OrgID: "b", SubKey: "health", Data: datatypes.JSON(`{}`), Version: 1, UpdatedAt: now},
		{Kind: "variables", OrgID: "a", Data: datatypes.JSON(`{}`), Version: 1, UpdatedAt: now},
	} {
		if err := gormDB.Create(&r).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	counts, err := CountRecords(gormDB)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if counts["draft"] != 2 || counts["variables"] != 1 {
		t.Errorf("CountRecords() = %v", counts)
	}

	if err := ResetTables(gormDB); err != nil {
		t.Fatalf("ResetTables: %v", err)
	}
	counts, err = CountRecords(gormDB)
	if err != nil {
		t.Fatalf("CountRecords after reset: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("CountRecords() after reset = %v, want empty", counts)
	}
}
