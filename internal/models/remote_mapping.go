package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MappingEntityType string

const (
	MappingEntityProduct   MappingEntityType = "PRODUCT"
	MappingEntityVariation MappingEntityType = "VARIATION"
)

// RemoteMapping associates a local key with the numeric id the remote catalog
// assigned to it. Rows are never deleted; removal only clears Active.
type RemoteMapping struct {
	ID           string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	EntityType   MappingEntityType `json:"entity_type" gorm:"type:varchar(20);not null;uniqueIndex:ux_remote_mappings_key,priority:1"`
	LocalKey     string            `json:"local_key" gorm:"not null;uniqueIndex:ux_remote_mappings_key,priority:2"`
	ParentKey    string            `json:"parent_key" gorm:"index"`
	RemoteID     int64             `json:"remote_id" gorm:"not null;index"`
	Active       bool              `json:"active" gorm:"default:true"`
	LastSyncedAt *time.Time        `json:"last_synced_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (m *RemoteMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
