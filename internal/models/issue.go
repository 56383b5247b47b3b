package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Issue is a recorded per-item sync failure that an operator may need to look at.
type Issue struct {
	ID          string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	RunID       string        `json:"run_id" gorm:"index"`
	SKU         string        `json:"sku" gorm:"index;not null"`
	Code        IssueCode     `json:"code" gorm:"not null"`
	Severity    IssueSeverity `json:"severity" gorm:"not null"`
	Explanation string        `json:"explanation" gorm:"type:text;not null"`
	IsResolved  bool          `json:"is_resolved" gorm:"default:false"`
	ResolvedAt  *time.Time    `json:"resolved_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type IssueCode string

const (
	IssueCodeRemoteItem    IssueCode = "REMOTE_ITEM_REJECTED"
	IssueCodeRemoteChunk   IssueCode = "REMOTE_CHUNK_FAILED"
	IssueCodeParentMissing IssueCode = "PARENT_NOT_RESOLVED"
	IssueCodeValidation    IssueCode = "VALIDATION"
)

type IssueSeverity string

const (
	IssueSeverityLow      IssueSeverity = "LOW"
	IssueSeverityMedium   IssueSeverity = "MEDIUM"
	IssueSeverityHigh     IssueSeverity = "HIGH"
	IssueSeverityCritical IssueSeverity = "CRITICAL"
)

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}
