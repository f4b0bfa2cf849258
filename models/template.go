package models

import "gorm.io/gorm"

// Template is an email template referenced by send_email steps.
// Subject and Body are html/template sources rendered against the lead.
type Template struct {
	gorm.Model
	CompanyID uint   `gorm:"not null;index" json:"company_id"`
	Name      string `gorm:"not null" json:"name"`
	Subject   string `gorm:"not null" json:"subject"`
	Body      string `gorm:"type:text" json:"body"`
}
