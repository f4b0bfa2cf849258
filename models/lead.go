package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact that can be enrolled into sequences
type Lead struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Phone     string `json:"phone"`
	Status    string `gorm:"default:'new'" json:"status"` // new, contacted, qualified, converted, lost

	// Suppression
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Engagement
	LastContact   *time.Time `json:"last_contact"`
	LastRepliedAt *time.Time `json:"last_replied_at"`

	CustomFields map[string]any `gorm:"type:jsonb;serializer:json" json:"custom_fields"`
}

// IsSuppressed reports whether the lead must not receive any email.
func (l Lead) IsSuppressed() bool {
	return l.IsBounced || l.IsUnsubscribed || l.IsDoNotContact
}
