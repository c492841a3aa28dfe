package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message sender roles
const (
	SenderAI        = "ai"
	SenderCandidate = "candidate"
)

// TrainingMessage is a single immutable message in a session's chat transcript.
// Display ordering is defined by SentAt ascending; the ID is the deduplication
// key once the message is persisted.
type TrainingMessage struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string         `gorm:"type:uuid;not null;index" json:"session_id"`
	Sender    string         `gorm:"size:20;not null;check:sender IN ('ai', 'candidate')" json:"sender"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	SentAt    time.Time      `gorm:"not null;index" json:"sent_at"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Session *TrainingSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

// BeforeCreate sets the ID when the caller did not provide one.
func (m *TrainingMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// TableName returns the table name for the TrainingMessage model
func (TrainingMessage) TableName() string {
	return "training_messages"
}
