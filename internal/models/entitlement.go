package models

import (
	"time"

	"github.com/google/uuid"
)

// EntitlementRecord is one append-only grant of premium access.
// Rows are never updated or deleted; a revocation is a new row with ValidUntil set to the revocation instant.
type EntitlementRecord struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_entitlement_user_source,priority:1" json:"user_id"`
	Source     string     `gorm:"size:32;not null;index:idx_entitlement_user_source,priority:2" json:"source"`
	ValidUntil *time.Time `json:"valid_until"`
	GrantedBy  *uuid.UUID `gorm:"type:uuid" json:"granted_by,omitempty"`
	Reason     string     `gorm:"type:text" json:"reason,omitempty"`
	Reference  string     `gorm:"size:255" json:"reference,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

func (EntitlementRecord) TableName() string {
	return "entitlement_records"
}

// GrantNotification is the one-shot notice shown to a user after a moderator grants premium.
type GrantNotification struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	RecordID       int64      `gorm:"not null" json:"record_id"`
	DurationDays   *int       `json:"duration_days"`
	Note           string     `gorm:"type:text" json:"note"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

func (GrantNotification) TableName() string {
	return "grant_notifications"
}
