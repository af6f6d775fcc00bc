package models

import (
	"time"

	"gorm.io/gorm"
)

// Outbound event types consumed downstream (CRM sync, notifiers, learning)
const (
	OutboxStepDeployed = "sequence.step_deployed"
	OutboxEngaged      = "sequence.engaged"
	OutboxCompleted    = "sequence.completed"
	OutboxCancelled    = "sequence.cancelled"
	OutboxFailed       = "sequence.failed"
	OutboxReviewNeeded = "sequence.review_needed"
)

// Outbox statuses
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxDead    = "dead"
)

// OutboxEvent is a durable outbound event row. The outbox worker delivers
// pending rows to the tenant's notification webhook and retires rows that
// exhaust their delivery attempts.
type OutboxEvent struct {
	gorm.Model
	EventID  string `gorm:"uniqueIndex" json:"event_id"`
	TenantID uint   `gorm:"index" json:"tenant_id"`
	LeadID   uint   `gorm:"index" json:"lead_id"`

	Type    string `gorm:"not null" json:"type"`
	Channel string `json:"channel"`
	Payload string `gorm:"type:text" json:"payload"` // JSON body delivered downstream

	Status    string     `gorm:"default:'pending';index" json:"status"` // pending, sent, dead
	Attempts  int        `gorm:"default:0" json:"attempts"`
	LastError string     `json:"last_error"`
	SentAt    *time.Time `json:"sent_at"`
}
