package models

import (
	"fmt"

	"dripline/utils"

	"gorm.io/gorm"
)

// StepType identifies what a sequence step does when it becomes due.
type StepType string

const (
	StepSendEmail StepType = "send_email"
	StepWait      StepType = "wait"
)

// DelayUnit is the unit a step delay is expressed in.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

const (
	DefaultExitOnReply     = true
	DefaultMaxEmailsPerDay = 3
)

// Sequence represents an automated, company-owned email drip sequence
type Sequence struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`
	CreatedBy uint `json:"created_by"`

	Name        string `gorm:"not null" json:"name" validate:"required,max=255"`
	Description string `json:"description"`

	// Definition
	Steps []SequenceStep `gorm:"type:jsonb;serializer:json" json:"steps" validate:"dive"`

	// Settings
	IsActive        bool        `gorm:"default:false" json:"is_active"`
	ExitOnReply     bool        `json:"exit_on_reply"`
	ExitOnGoal      *string     `json:"exit_on_goal"` // lead status that ends the sequence
	SendWindow      *SendWindow `gorm:"type:jsonb;serializer:json" json:"send_time_window" validate:"omitempty"`
	MaxEmailsPerDay int         `json:"max_emails_per_day" validate:"gte=0"` // 0 = unlimited

	// Statistics (denormalized, recounted from enrollments)
	Stats SequenceStats `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
}

// SequenceStep is one element of a sequence's ordered step list
type SequenceStep struct {
	Type       StepType       `json:"type" validate:"required,oneof=send_email wait"`
	Delay      Delay          `json:"delay"`
	TemplateID uint           `json:"template_id,omitempty" validate:"required_if=Type send_email"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// Delay is relative to the previous step's completion, or to enrollment for step 0.
type Delay struct {
	Unit  DelayUnit `json:"unit" validate:"omitempty,oneof=minutes hours days"`
	Value float64   `json:"value" validate:"gte=0"`
}

// SendWindow is the daily hour range sends are restricted to.
type SendWindow struct {
	Start    string `json:"start" validate:"required,hhmm"`
	End      string `json:"end" validate:"required,hhmm"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// SequenceStats mirrors enrollment counts for display.
type SequenceStats struct {
	Enrolled   int `gorm:"default:0" json:"enrolled"`
	Active     int `gorm:"default:0" json:"active"`
	Completed  int `gorm:"default:0" json:"completed"`
	Exited     int `gorm:"default:0" json:"exited"`
	Failed     int `gorm:"default:0" json:"failed"`
	EmailsSent int `gorm:"default:0" json:"emails_sent"`
}

// Validate checks the definition before it is stored. A window whose end is
// before its start is rejected; start == end is accepted and never opens.
func (s *Sequence) Validate() error {
	if err := utils.ValidateStruct(s); err != nil {
		return err
	}
	if w := s.SendWindow; w != nil && w.Start > w.End {
		return fmt.Errorf("send_time_window start %s is after end %s", w.Start, w.End)
	}
	for i, step := range s.Steps {
		if step.Delay.Value > 0 && step.Delay.Unit == "" {
			return fmt.Errorf("step %d: delay unit is required when value is set", i)
		}
	}
	return nil
}
