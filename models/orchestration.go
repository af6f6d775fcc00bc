package models

import (
	"time"

	"gorm.io/gorm"
)

// Orchestration statuses. Paused is the only reversible transition; completed,
// cancelled and failed are absorbing.
const (
	OrchestrationPending   = "pending"
	OrchestrationActive    = "active"
	OrchestrationPaused    = "paused"
	OrchestrationCompleted = "completed"
	OrchestrationCancelled = "cancelled"
	OrchestrationFailed    = "failed"
)

// Channels
const (
	ChannelEmail    = "email"
	ChannelLinkedIn = "linkedin"
)

// OrchestrationState is the per-lead progress record, the sole mutable entity
// of the orchestrator. Two triggers (webhook delivery, timeout sweep) race on
// it, so every write goes through a version check.
type OrchestrationState struct {
	gorm.Model
	LeadID     uint `gorm:"not null;uniqueIndex" json:"lead_id"`
	TenantID   uint `gorm:"not null;index" json:"tenant_id"`
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	Status string `gorm:"default:'pending';index" json:"status"` // pending, active, paused, completed, cancelled, failed

	// Per-channel cursors. Cursor N means steps 1..N have been deployed.
	EmailStepCurrent    int `gorm:"default:0" json:"email_step_current"`
	EmailStepTotal      int `gorm:"default:0" json:"email_step_total"`
	LinkedInStepCurrent int `gorm:"default:0" json:"linkedin_step_current"`
	LinkedInStepTotal   int `gorm:"default:0" json:"linkedin_step_total"`

	// Platform-assigned lead ids, set once on the first successful add
	SmartleadLeadID string `json:"smartlead_lead_id"`
	HeyReachLeadID  string `json:"heyreach_lead_id"`

	// Accumulated signals
	LinkedInConnected bool `gorm:"default:false" json:"linkedin_connected"`
	LinkedInReplied   bool `gorm:"default:false" json:"linkedin_replied"`
	EmailReplied      bool `gorm:"default:false" json:"email_replied"`

	// Engagement flag: set on the first positive reply on either channel, read
	// by both channel advancement paths to soften the other channel's cadence.
	EngagedAt      *time.Time `json:"engaged_at"`
	EngagedChannel string     `json:"engaged_channel"`

	// Per-channel halt flags for leads a platform permanently rejects
	EmailHalted        bool   `gorm:"default:false" json:"email_halted"`
	EmailHaltReason    string `json:"email_halt_reason"`
	LinkedInHalted     bool   `gorm:"default:false" json:"linkedin_halted"`
	LinkedInHaltReason string `json:"linkedin_halt_reason"`

	// Human review flag, set when bounded retries are exhausted or local state
	// diverges from platform-reported state
	NeedsReview  bool   `gorm:"default:false;index" json:"needs_review"`
	ReviewReason string `json:"review_reason"`

	EmailLastAdvancedAt    *time.Time `json:"email_last_advanced_at"`
	LinkedInLastAdvancedAt *time.Time `json:"linkedin_last_advanced_at"`
	LastEventAt            *time.Time `json:"last_event_at"`

	TerminalReason string `json:"terminal_reason"` // set only on completed/cancelled/failed

	Version int `gorm:"not null;default:0" json:"version"` // optimistic concurrency
}

// Terminal reports whether the state has reached an absorbing status.
func (s *OrchestrationState) Terminal() bool {
	switch s.Status {
	case OrchestrationCompleted, OrchestrationCancelled, OrchestrationFailed:
		return true
	}
	return false
}

// Cursor returns the current cursor for a channel.
func (s *OrchestrationState) Cursor(channel string) int {
	if channel == ChannelEmail {
		return s.EmailStepCurrent
	}
	return s.LinkedInStepCurrent
}

// Total returns the step total for a channel.
func (s *OrchestrationState) Total(channel string) int {
	if channel == ChannelEmail {
		return s.EmailStepTotal
	}
	return s.LinkedInStepTotal
}

// SetCursor moves a channel's cursor and stamps the advancement time.
func (s *OrchestrationState) SetCursor(channel string, position int, at time.Time) {
	if channel == ChannelEmail {
		s.EmailStepCurrent = position
		s.EmailLastAdvancedAt = &at
		return
	}
	s.LinkedInStepCurrent = position
	s.LinkedInLastAdvancedAt = &at
}

// Halted reports whether a channel is excluded from further advancement.
func (s *OrchestrationState) Halted(channel string) bool {
	if channel == ChannelEmail {
		return s.EmailHalted
	}
	return s.LinkedInHalted
}

// Halt marks a channel unable to deploy.
func (s *OrchestrationState) Halt(channel, reason string) {
	if channel == ChannelEmail {
		s.EmailHalted = true
		s.EmailHaltReason = reason
		return
	}
	s.LinkedInHalted = true
	s.LinkedInHaltReason = reason
}

// PlatformLeadID returns the platform-assigned id for a channel, if any.
func (s *OrchestrationState) PlatformLeadID(channel string) string {
	if channel == ChannelEmail {
		return s.SmartleadLeadID
	}
	return s.HeyReachLeadID
}

// SetPlatformLeadID records a platform-assigned id. It is set at most once.
func (s *OrchestrationState) SetPlatformLeadID(channel, id string) {
	if channel == ChannelEmail {
		if s.SmartleadLeadID == "" {
			s.SmartleadLeadID = id
		}
		return
	}
	if s.HeyReachLeadID == "" {
		s.HeyReachLeadID = id
	}
}

// LastAdvancedAt returns the last advancement time for a channel.
func (s *OrchestrationState) LastAdvancedAt(channel string) *time.Time {
	if channel == ChannelEmail {
		return s.EmailLastAdvancedAt
	}
	return s.LinkedInLastAdvancedAt
}

// StepDeployment is the idempotency marker for one deploy attempt. The unique
// index guarantees "deploy step N" happens at most once per (lead, channel,
// position) even when the advisory lock degrades. A marker stuck in attempted
// with a lagging cursor is how state/platform divergence is detected.
type StepDeployment struct {
	gorm.Model
	StateID  uint   `gorm:"not null;uniqueIndex:idx_step_deployments_step,priority:1" json:"state_id"`
	LeadID   uint   `gorm:"not null;index" json:"lead_id"`
	Channel  string `gorm:"not null;uniqueIndex:idx_step_deployments_step,priority:2" json:"channel"`
	Position int    `gorm:"not null;uniqueIndex:idx_step_deployments_step,priority:3" json:"position"`

	Status      string     `gorm:"default:'attempted'" json:"status"` // attempted, confirmed
	ConfirmedAt *time.Time `json:"confirmed_at"`
}

// Deployment marker statuses
const (
	DeploymentAttempted = "attempted"
	DeploymentConfirmed = "confirmed"
)
