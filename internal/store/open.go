package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/db"
)

// Open builds the backend selected by cfg. The returned close function
// releases database connections and is a no-op for other backends.
// SQLite databases are migrated on open; MySQL expects `alm db migrate`.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "sqlite", "mysql":
		gormDB, err := db.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Driver == "sqlite" {
			if err := db.AutoMigrate(gormDB); err != nil {
				return nil, nil, err
			}
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("store: underlying sql db: %w", err)
		}
		return NewGorm(gormDB), sqlDB.Close, nil
	case "file":
		st, err := NewFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case "s3":
		st, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].OrgID != keys[j].OrgID {
			return keys[i].OrgID < keys[j].OrgID
		}
		return keys[i].SubKey < keys[j].SubKey
	})
}
