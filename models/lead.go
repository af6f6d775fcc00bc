package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single prospect being pursued through one or more channels
type Lead struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Email       string `gorm:"not null;index" json:"email"`
	LinkedInURL string `gorm:"index" json:"linkedin_url"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company"`
	Position    string `json:"position"`

	// Status
	IsVerified     bool `gorm:"default:false" json:"is_verified"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Metadata
	Source      string     `json:"source"` // pixel, intent, apollo, csv, manual
	LastContact *time.Time `json:"last_contact"`
}
