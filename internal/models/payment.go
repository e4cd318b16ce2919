package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent marks a payment-provider event as applied so replays are ignored.
type ProcessedEvent struct {
	EventID   string    `gorm:"size:255;primaryKey" json:"event_id"`
	Provider  string    `gorm:"size:20;not null" json:"provider"`
	EventType string    `gorm:"size:100;not null" json:"event_type"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	AppliedAt time.Time `gorm:"not null" json:"applied_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// SubscriptionLink maps a provider subscription id to the user who checked out.
type SubscriptionLink struct {
	SubscriptionID string    `gorm:"size:255;primaryKey" json:"subscription_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (SubscriptionLink) TableName() string {
	return "subscription_links"
}

// PremiumCode is a single-use code issued to one user by a moderator.
type PremiumCode struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	CodeHash   string     `gorm:"size:100;not null" json:"-"`
	IssuedBy   uuid.UUID  `gorm:"type:uuid;not null" json:"issued_by"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (PremiumCode) TableName() string {
	return "premium_codes"
}
