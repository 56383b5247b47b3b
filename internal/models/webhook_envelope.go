package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEnvelope is one inbound change event pushed by the remote catalog.
type WebhookEnvelope struct {
	ID          string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Source      string         `json:"source" gorm:"type:varchar(100);index"`
	DeliveryID  *string        `json:"delivery_id,omitempty" gorm:"type:varchar(191);uniqueIndex"`
	Topic       WebhookTopic   `json:"topic" gorm:"type:varchar(20);not null"`
	ResourceID  int64          `json:"resource_id" gorm:"index"`
	Payload     datatypes.JSON `json:"payload"`
	Status      WebhookStatus  `json:"status" gorm:"type:varchar(20);not null;index;default:pending"`
	Attempts    int            `json:"attempts" gorm:"default:0"`
	LastError   string         `json:"last_error" gorm:"type:text"`
	ClaimedAt   *time.Time     `json:"claimed_at"`
	CompletedAt *time.Time     `json:"completed_at" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type WebhookTopic string

const (
	WebhookTopicCreated  WebhookTopic = "created"
	WebhookTopicUpdated  WebhookTopic = "updated"
	WebhookTopicDeleted  WebhookTopic = "deleted"
	WebhookTopicRestored WebhookTopic = "restored"
)

type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusCompleted  WebhookStatus = "completed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

func (w *WebhookEnvelope) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}
