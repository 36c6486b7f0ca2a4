package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormStore keeps records in the records table of a SQL database.
type GormStore struct {
	db *gorm.DB
}

// NewGorm returns a Store backed by db. The records table must exist.
func NewGorm(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key Key) (*Object, error) {
	var rec models.Record
	err := s.db.WithContext(ctx).
		Where("kind = ? AND org_id = ? AND sub_key = ?", key.Kind, key.OrgID, key.SubKey).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return recordObject(rec), nil
}

func (s *GormStore) Put(ctx context.Context, key Key, data []byte, expectVersion int64) (*Object, error) {
	var out *Object
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Record
		err := tx.Where("kind = ? AND org_id = ? AND sub_key = ?", key.Kind, key.OrgID, key.SubKey).
			First(&rec).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("store: put %s: %w", key, err)
		}
		if err := checkVersion(key, exists, rec.Version, expectVersion); err != nil {
			return err
		}

		now := time.Now()
		if !exists {
			rec = models.Record{
				Kind:      key.Kind,
				OrgID:     key.OrgID,
				SubKey:    key.SubKey,
				Data:      datatypes.JSON(data),
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("store: put %s: %w", key, err)
			}
			out = recordObject(rec)
			return nil
		}

		result := tx.Model(&models.Record{}).
			Where("kind = ? AND org_id = ? AND sub_key = ? AND version = ?", key.Kind, key.OrgID, key.SubKey, rec.Version).
			Updates(map[string]interface{}{
				"data":       datatypes.JSON(data),
				"version":    rec.Version + 1,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("store: put %s: %w", key, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("store: put %s: concurrent write: %w", key, ErrConflict)
		}
		rec.Data = datatypes.JSON(data)
		rec.Version++
		rec.UpdatedAt = now
		out = recordObject(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Delete(ctx context.Context, key Key) error {
	result := s.db.WithContext(ctx).
		Where("kind = ? AND org_id = ? AND sub_key = ?", key.Kind, key.OrgID, key.SubKey).
		Delete(&models.Record{})
	if result.Error != nil {
		return fmt.Errorf("store: delete %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: delete %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, kind, orgID string) ([]Key, error) {
	q := s.db.WithContext(ctx).Model(&models.Record{}).Where("kind = ?", kind)
	if orgID != "" {
		q = q.Where("org_id = ?", orgID)
	}
	var rows []models.Record
	if err := q.Select("kind", "org_id", "sub_key").Order("org_id ASC, sub_key ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list %s: %w", kind, err)
	}
	keys := make([]Key, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, Key{Kind: r.Kind, OrgID: r.OrgID, SubKey: r.SubKey})
	}
	return keys, nil
}

func recordObject(rec models.Record) *Object {
	return &Object{
		Key:       Key{Kind: rec.Kind, OrgID: rec.OrgID, SubKey: rec.SubKey},
		Data:      []byte(rec.Data),
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}
}
