package models

import (
	"gorm.io/gorm"
)

// Tenant represents a workspace that owns leads, sequences and the
// platform credentials used to act on their behalf.
type Tenant struct {
	gorm.Model

	Name  string `gorm:"not null" json:"name"`
	Email string `gorm:"uniqueIndex" json:"email"`

	// Platform credentials, stored encrypted. Empty means the tenant falls
	// back to the environment-level key for that platform.
	SmartleadAPIKey string `json:"-"`
	HeyReachAPIKey  string `json:"-"`

	// Campaign containers provisioned on each platform for this tenant.
	SmartleadCampaignID string `json:"smartlead_campaign_id"`
	HeyReachCampaignID  string `json:"heyreach_campaign_id"`

	// Outbound notifications
	NotifyWebhookURL string `json:"notify_webhook_url"`
	OperatorEmail    string `json:"operator_email"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Leads     []Lead     `gorm:"foreignKey:TenantID" json:"leads,omitempty"`
	Sequences []Sequence `gorm:"foreignKey:TenantID" json:"sequences,omitempty"`
}
