//go:build integration

package db

import (
	"os"
	"strconv"
	"testing"

	"github.com/zulandar/almanac/internal/config"
)

// mysqlTestConfig reads the server under test from the environment.
func mysqlTestConfig(t *testing.T) config.MySQLConfig {
	t.Helper()
	host := os.Getenv("ALMANAC_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("ALMANAC_TEST_MYSQL_HOST not set")
	}
	port := 3306
	if p := os.Getenv("ALMANAC_TEST_MYSQL_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("ALMANAC_TEST_MYSQL_PORT: %v", err)
		}
		port = n
	}
	return config.MySQLConfig{
		Host:     host,
		Port:     port,
		User:     "root",
		Password: os.Getenv("ALMANAC_TEST_MYSQL_PASSWORD"),
		Database: "almanac_integration",
	}
}

func TestIntegration_CreateMigrateDrop(t *testing.T) {
	cfg := mysqlTestConfig(t)

	adminDB, err := ConnectAdmin(cfg)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(adminDB, cfg.Database); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	t.Cleanup(func() { DropDatabase(adminDB, cfg.Database) })

	gormDB, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	counts, err := CountRecords(gormDB)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("fresh database has records: %v", counts)
	}
}
