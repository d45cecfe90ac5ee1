package domain

import (
	"time"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

const ScopeProfileWrite = "profile:write"

// Profile is the user-store record the voice router reads and updates.
type Profile struct {
	UserID       string    `json:"user_id" gorm:"primaryKey"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty" gorm:"index"`
	Language     string    `json:"language" gorm:"default:en"`
	VoiceProfile string    `json:"voice_profile,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "voice_profiles" }

// ProfileUpdatableFields lists the fields a voice command may change.
var ProfileUpdatableFields = []string{"display_name", "language", "voice_profile"}
