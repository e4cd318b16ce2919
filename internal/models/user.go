package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User is the internal identity behind an external authenticated subject.
type User struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ExternalSubjectID string    `gorm:"size:255;not null;uniqueIndex" json:"external_subject_id"`
	Email             string    `gorm:"size:255;index" json:"email"`
	DisplayName       string    `gorm:"size:100;not null" json:"display_name"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserSettings holds the per-user application settings seeded on first sign-in.
type UserSettings struct {
	UserID    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	Settings  datatypes.JSON `gorm:"type:jsonb;not null" json:"settings"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}
