package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLogEntry is a permanent record of a privileged mutation or sensitive read.
// No code path updates or deletes these rows.
type AuditLogEntry struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"actor_id"`
	TargetUserID  *uuid.UUID     `gorm:"type:uuid;index" json:"target_user_id"`
	Action        string         `gorm:"size:50;not null;index" json:"action"`
	Before        datatypes.JSON `gorm:"type:jsonb" json:"before,omitempty"`
	After         datatypes.JSON `gorm:"type:jsonb" json:"after,omitempty"`
	Details       datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	Reason        *string        `gorm:"type:text" json:"reason"`
	NetworkOrigin *string        `gorm:"size:64" json:"network_origin"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}
