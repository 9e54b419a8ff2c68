package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	WebhookEventClipSubmitted = "clip.submitted"
	WebhookEventClipApproved  = "clip.approved"
	WebhookEventClipRejected  = "clip.rejected"
)

func SupportedWebhookEvents() []string {
	return []string{
		WebhookEventClipSubmitted,
		WebhookEventClipApproved,
		WebhookEventClipRejected,
	}
}

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusDelivered  = "delivered"
	DeliveryStatusFailed     = "failed"
	DeliveryStatusDeadLetter = "dead_letter"
)

type WebhookSubscription struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	URL            string     `gorm:"not null" json:"url"`
	Secret         string     `gorm:"not null" json:"-"`
	Events         []string   `gorm:"serializer:json;not null" json:"events"`
	IsActive       bool       `gorm:"not null" json:"is_active"`
	Description    *string    `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
}

func (s *WebhookSubscription) Listens(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

type WebhookDelivery struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID uuid.UUID  `gorm:"type:uuid;not null;index" json:"subscription_id"`
	EventType      string     `gorm:"not null" json:"event_type"`
	EventID        uuid.UUID  `gorm:"type:uuid;not null" json:"event_id"`
	Payload        string     `gorm:"not null" json:"payload"`
	Status         string     `gorm:"not null;index:idx_delivery_due" json:"status"`
	HTTPStatusCode *int       `json:"http_status_code,omitempty"`
	ResponseBody   *string    `json:"response_body,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	AttemptCount   int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts    int        `gorm:"not null" json:"max_attempts"`
	NextAttemptAt  *time.Time `gorm:"index:idx_delivery_due" json:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WebhookDeadLetter is a delivery that exhausted its retries. It keeps a copy
// of the payload so it can be replayed after the original delivery row is
// pruned.
type WebhookDeadLetter struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"subscription_id"`
	DeliveryID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"delivery_id"`
	EventType          string     `gorm:"not null" json:"event_type"`
	EventID            uuid.UUID  `gorm:"type:uuid;not null" json:"event_id"`
	Payload            string     `gorm:"not null" json:"payload"`
	FailureReason      string     `gorm:"not null" json:"failure_reason"`
	LastErrorMessage   *string    `json:"last_error_message,omitempty"`
	LastHTTPStatusCode *int       `json:"last_http_status_code,omitempty"`
	LastResponseBody   *string    `json:"last_response_body,omitempty"`
	AttemptCount       int        `gorm:"not null" json:"attempt_count"`
	OriginalCreatedAt  time.Time  `json:"original_created_at"`
	MovedToDLQAt       time.Time  `gorm:"column:moved_to_dlq_at" json:"moved_to_dlq_at"`
	ReplayCount        int        `gorm:"not null;default:0" json:"replay_count"`
	LastReplayAt       *time.Time `json:"last_replay_at,omitempty"`
	ReplaySuccessful   *bool      `json:"replay_successful,omitempty"`
}

func (WebhookDeadLetter) TableName() string {
	return "outbound_webhook_dead_letter_queue"
}

// WebhookEventPayload is the JSON body POSTed to subscribers.
type WebhookEventPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
