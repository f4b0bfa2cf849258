package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender represents a company's email sending and receiving credentials
type Sender struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// ========= SMTP Configuration =========
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"` // Encrypted in application layer

	// ========= IMAP Configuration =========
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // Encrypted in application layer
	IMAPMailbox  string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// Status
	IsActive      bool       `gorm:"default:true" json:"is_active"`
	LastError     string     `json:"last_error"`
	LastTestedAt  *time.Time `json:"last_tested_at"`
	LastCheckedAt *time.Time `json:"last_checked_at"` // last IMAP poll
}
