package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncLog is an append-only audit row written alongside every change it describes.
type SyncLog struct {
	ID        string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	RunID     string         `json:"run_id" gorm:"index"`
	Origin    SyncLogOrigin  `json:"origin" gorm:"type:varchar(20);not null"`
	SKU       string         `json:"sku" gorm:"index"`
	Action    string         `json:"action" gorm:"not null"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

type SyncLogOrigin string

const (
	SyncLogOriginCatalog SyncLogOrigin = "catalog_sync"
	SyncLogOriginPrices  SyncLogOrigin = "price_sync"
	SyncLogOriginWebhook SyncLogOrigin = "webhook"
)

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
