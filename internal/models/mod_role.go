package models

import (
	"time"

	"github.com/google/uuid"
)

// ModRole grants moderation capability to a user. Absence of a row means no capability.
type ModRole struct {
	UserID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role      string     `gorm:"size:20;not null" json:"role"`
	GrantedBy *uuid.UUID `gorm:"type:uuid" json:"granted_by,omitempty"`
	GrantedAt time.Time  `gorm:"not null" json:"granted_at"`
}

func (ModRole) TableName() string {
	return "mod_roles"
}
