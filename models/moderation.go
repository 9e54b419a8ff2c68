package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ModerationStatusPending  = "pending"
	ModerationStatusApproved = "approved"
	ModerationStatusRejected = "rejected"
)

// ModerationQueueItem is content flagged for human review, either by the
// toxicity classifier or by a user report.
type ModerationQueueItem struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ContentType     string     `gorm:"not null;uniqueIndex:idx_modqueue_content" json:"content_type"`
	ContentID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_modqueue_content" json:"content_id"`
	Reason          string     `gorm:"not null" json:"reason"`
	Priority        int        `gorm:"not null;index" json:"priority"`
	Status          string     `gorm:"not null;default:pending;index" json:"status"`
	AutoFlagged     bool       `gorm:"not null;default:false" json:"auto_flagged"`
	ConfidenceScore *float64   `json:"confidence_score,omitempty"`
	ReviewedBy      *uuid.UUID `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ModerationAppeal struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ModerationItemID uuid.UUID  `gorm:"type:uuid;not null;index" json:"moderation_item_id"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Reason           string     `gorm:"not null" json:"reason"`
	Status           string     `gorm:"not null;default:pending" json:"status"`
	ResolvedBy       *uuid.UUID `gorm:"type:uuid" json:"resolved_by,omitempty"`
	Resolution       *string    `json:"resolution,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

func (ModerationAppeal) TableName() string {
	return "moderation_appeals"
}
