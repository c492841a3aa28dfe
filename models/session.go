package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrainingSession records one candidate run through the training chat, from
// code redemption to evaluation. EndedAt is null while the session is active;
// once set the session is terminal and only the evaluation fields may still be
// edited by an admin.
type TrainingSession struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	CodeID          string         `gorm:"type:uuid;not null;index" json:"code_id"`
	CandidateName   string         `gorm:"size:255;not null" json:"candidate_name"`
	StartedAt       time.Time      `gorm:"not null" json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	Score           *float64       `gorm:"type:decimal(5,2)" json:"score,omitempty"` // 0.00 to 100.00
	Feedback        *string        `gorm:"type:text" json:"feedback,omitempty"`
	Strengths       string         `gorm:"type:text" json:"strengths,omitempty"`
	AreasToImprove  string         `gorm:"type:text" json:"areas_to_improve,omitempty"`
	Recommendations string         `gorm:"type:text" json:"recommendations,omitempty"`
	IsPublic        bool           `gorm:"not null;default:false" json:"is_public"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Code     *TrainingCode     `gorm:"foreignKey:CodeID" json:"code,omitempty"`
	Messages []TrainingMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName returns the table name for the TrainingSession model
func (TrainingSession) TableName() string {
	return "training_sessions"
}

// BeforeCreate sets the ID when the caller did not provide one.
func (s *TrainingSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the session has not yet reached its terminal state.
func (s *TrainingSession) Active() bool {
	return s.EndedAt == nil
}

// Evaluation is the scored result of a finished session. It is derived from
// the session record rather than stored separately.
type Evaluation struct {
	Score           float64 `json:"score"` // 0-100
	Feedback        string  `json:"feedback"`
	Strengths       string  `json:"strengths,omitempty"`
	AreasToImprove  string  `json:"areas_to_improve,omitempty"`
	Recommendations string  `json:"recommendations,omitempty"`
}
