package models

import (
	"time"

	"gorm.io/gorm"
)

// Webhook event outcomes
const (
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventDropped   = "dropped"
	EventError     = "error"
)

// WebhookEvent is the append-only audit log of every canonical event received
// from a platform, including duplicates and events that matched no lead.
type WebhookEvent struct {
	gorm.Model
	ReceiptID string `gorm:"index" json:"receipt_id"`
	Platform  string `gorm:"index" json:"platform"` // smartlead, heyreach
	EventType string `json:"event_type"`
	Channel   string `json:"channel"`

	LeadID     *uint  `gorm:"index" json:"lead_id,omitempty"`
	Email      string `json:"email"`
	ProfileURL string `json:"profile_url"`
	Message    string `gorm:"type:text" json:"message"`

	Fingerprint string `gorm:"index" json:"fingerprint"`
	Outcome     string `json:"outcome"` // applied, duplicate, dropped, error
	Detail      string `json:"detail"`

	OccurredAt time.Time `json:"occurred_at"` // source timestamp
	ReceivedAt time.Time `json:"received_at"`
}
