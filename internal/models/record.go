package models

import (
	"time"

	"gorm.io/datatypes"
)

// Record is one JSON document in the keyed record store. Kind, OrgID and
// SubKey together form the key; Version increments on every write.
type Record struct {
	Kind      string         `gorm:"primaryKey;size:32"`
	OrgID     string         `gorm:"primaryKey;size:64"`
	SubKey    string         `gorm:"primaryKey;size:191"`
	Data      datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}
