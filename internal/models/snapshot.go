package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot is the baseline entity set last synced from one feed source.
type Snapshot struct {
	Source      string         `json:"source" gorm:"primaryKey;type:varchar(100)"`
	Entities    datatypes.JSON `json:"entities"`
	EntityCount int            `json:"entity_count"`
	RunID       string         `json:"run_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SyncDiff is one row of the diff set persisted for a run.
type SyncDiff struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	RunID     string    `json:"run_id" gorm:"index;not null"`
	Source    string    `json:"source" gorm:"index"`
	SKU       string    `json:"sku" gorm:"not null"`
	Action    string    `json:"action" gorm:"type:varchar(20);not null"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

func (d *SyncDiff) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
