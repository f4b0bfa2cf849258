package models

import (
	"time"

	"gorm.io/gorm"
)

// EnrollmentStatus is the lifecycle state of a sequence enrollment.
// Active is the only non-terminal status.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
	EnrollmentFailed    EnrollmentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s EnrollmentStatus) IsTerminal() bool {
	return s != EnrollmentActive
}

// SequenceEnrollment tracks one lead's progress through one sequence
type SequenceEnrollment struct {
	gorm.Model
	// At most one active row per (sequence, lead); terminal rows are kept as history.
	SequenceID uint             `gorm:"not null;index;uniqueIndex:idx_enrollment_active_pair,where:status = 'active'" json:"sequence_id"`
	LeadID     uint             `gorm:"not null;index;uniqueIndex:idx_enrollment_active_pair,where:status = 'active'" json:"lead_id"`
	CompanyID  uint             `gorm:"not null;index" json:"company_id"`
	Status     EnrollmentStatus `gorm:"not null;default:'active';index:idx_enrollment_due,priority:1" json:"status"`

	// Progress
	CurrentStep     int        `gorm:"default:0" json:"current_step"`
	NextRunAt       *time.Time `gorm:"index:idx_enrollment_due,priority:2" json:"next_run_at"`
	StepsCompleted  int        `gorm:"default:0" json:"steps_completed"`
	EmailsSent      int        `gorm:"default:0" json:"emails_sent"`
	EmailsSentToday int        `gorm:"default:0" json:"emails_sent_today"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at"`
	LastMessageID   string     `json:"last_message_id"`

	// Lifecycle
	ExitReason  *string    `json:"exit_reason"`
	EnrolledBy  uint       `json:"enrolled_by"`
	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`
	ExitedAt    *time.Time `json:"exited_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Metadata map[string]any `gorm:"type:jsonb;serializer:json" json:"metadata"`
}
