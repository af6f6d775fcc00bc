package models

import "gorm.io/gorm"

// Campaign modes
const (
	ModeEmailOnly    = "email_only"
	ModeLinkedInOnly = "linkedin_only"
	ModeMultiChannel = "multi_channel"
)

// Sequence statuses
const (
	SequenceDraft      = "draft"
	SequenceApproved   = "approved"
	SequenceSuperseded = "superseded"
)

// LinkedIn step types
const (
	LinkedInStepConnectionRequest = "connection_request"
	LinkedInStepMessage           = "message"
	LinkedInStepProfileVisit      = "profile_visit"
)

// Sequence is the generated outreach plan for one lead. It is immutable once
// approved; regeneration creates a new row and marks this one superseded.
type Sequence struct {
	gorm.Model
	LeadID   uint `gorm:"not null;index" json:"lead_id"`
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Mode   string `gorm:"not null" json:"mode"`              // email_only, linkedin_only, multi_channel
	Status string `gorm:"default:'draft'" json:"status"` // draft, approved, superseded

	// Relations
	EmailSteps    []EmailStep    `gorm:"foreignKey:SequenceID" json:"email_steps,omitempty"`
	LinkedInSteps []LinkedInStep `gorm:"foreignKey:SequenceID" json:"linkedin_steps,omitempty"`
}

// EmailEnabled reports whether the email track participates in this sequence.
func (s *Sequence) EmailEnabled() bool {
	return s.Mode == ModeEmailOnly || s.Mode == ModeMultiChannel
}

// LinkedInEnabled reports whether the LinkedIn track participates in this sequence.
func (s *Sequence) LinkedInEnabled() bool {
	return s.Mode == ModeLinkedInOnly || s.Mode == ModeMultiChannel
}

// EmailStepAt returns the email step at the given 1-based position.
func (s *Sequence) EmailStepAt(position int) *EmailStep {
	for i := range s.EmailSteps {
		if s.EmailSteps[i].Position == position {
			return &s.EmailSteps[i]
		}
	}
	return nil
}

// LinkedInStepAt returns the LinkedIn step at the given 1-based position.
func (s *Sequence) LinkedInStepAt(position int) *LinkedInStep {
	for i := range s.LinkedInSteps {
		if s.LinkedInSteps[i].Position == position {
			return &s.LinkedInSteps[i]
		}
	}
	return nil
}

// EmailStep is one email touch in the plan
type EmailStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	Position  int    `gorm:"not null" json:"position"` // 1-based
	DayOffset int    `json:"day_offset"`               // days from sequence start
	Subject   string `gorm:"not null" json:"subject"`
	Body      string `gorm:"type:text" json:"body"`
	WordCount int    `json:"word_count"`
}

// LinkedInStep is one LinkedIn touch in the plan
type LinkedInStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	Position int    `gorm:"not null" json:"position"` // 1-based
	Type     string `gorm:"not null" json:"type"`     // connection_request, message, profile_visit
	Body     string `gorm:"type:text" json:"body"`    // message body or connection note
}
