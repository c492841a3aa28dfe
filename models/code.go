package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrainingCode is a single-use access code unlocking one sales-training chat
// simulation. The persona fields describe the scripted client the AI plays.
type TrainingCode struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	Code          string         `gorm:"uniqueIndex;not null;size:100" json:"code"`
	IsUsed        bool           `gorm:"not null;default:false" json:"is_used"`
	IsActive      bool           `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt     time.Time      `gorm:"not null" json:"expires_at"`
	ClientName    string         `gorm:"size:255;not null" json:"client_name"`
	Personality   string         `gorm:"type:text;not null" json:"personality"`
	InterestLevel string         `gorm:"size:50" json:"interest_level,omitempty"` // low, medium, high
	Objections    string         `gorm:"type:text" json:"objections,omitempty"`
	Product       string         `gorm:"size:255" json:"product,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Sessions []TrainingSession `gorm:"foreignKey:CodeID" json:"sessions,omitempty"`
}

// BeforeCreate sets the ID when the caller did not provide one.
func (c *TrainingCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// TableName returns the table name for the TrainingCode model
func (TrainingCode) TableName() string {
	return "training_codes"
}

// Expired reports whether the code's expiry timestamp has passed.
func (c *TrainingCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
