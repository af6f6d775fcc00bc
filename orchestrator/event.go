package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"reachflow/models"
)

// Source platforms
const (
	PlatformSmartlead = "smartlead"
	PlatformHeyReach  = "heyreach"
)

// Canonical event types
const (
	EventConnectionAccepted = "connection_accepted"
	EventMessageReceived    = "message_received"
	EventProfileViewed      = "profile_viewed"
	EventEmailOpened        = "email_opened"
	EventEmailReplied       = "email_replied"
	EventBounced            = "bounced"
	EventUnsubscribed       = "unsubscribed"
	EventMeetingBooked      = "meeting_booked"
)

// CanonicalEvent is the platform-agnostic form of a webhook notification.
// The webhook controllers normalize each platform's raw payload into this
// shape before it reaches the state machine.
type CanonicalEvent struct {
	ReceiptID  string    `json:"receipt_id"`
	Platform   string    `json:"platform"`
	Type       string    `json:"type"`
	Channel    string    `json:"channel"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	ProfileURL string    `json:"profile_url,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"` // source timestamp, not receipt order
	ReceivedAt time.Time `json:"received_at"`
}

// Identity returns the best-available lead identity key: email for email
// platform events, normalized profile URL for LinkedIn platform events.
func (e CanonicalEvent) Identity() string {
	if e.Email != "" {
		return strings.ToLower(strings.TrimSpace(e.Email))
	}
	return NormalizeProfileURL(e.ProfileURL)
}

// Fingerprint identifies a delivery for dedup purposes. Platforms do not
// provide stable event ids, so the same campaign + lead + type +
// minute-granularity source timestamp is treated as one event.
func (e CanonicalEvent) Fingerprint() string {
	minute := e.OccurredAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
	return fmt.Sprintf("%s|%s|%s|%s|%s", e.Platform, e.CampaignID, e.Type, e.Identity(), minute)
}

// NormalizeProfileURL strips scheme, www prefix and trailing slashes so the
// same profile matches regardless of how the platform formats the URL.
func NormalizeProfileURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimRight(u, "/")
}

// AuditRecord builds the append-only log row for this event.
func (e CanonicalEvent) AuditRecord(leadID *uint, outcome, detail string) *models.WebhookEvent {
	return &models.WebhookEvent{
		ReceiptID:   e.ReceiptID,
		Platform:    e.Platform,
		EventType:   e.Type,
		Channel:     e.Channel,
		LeadID:      leadID,
		Email:       e.Email,
		ProfileURL:  e.ProfileURL,
		Message:     e.Message,
		Fingerprint: e.Fingerprint(),
		Outcome:     outcome,
		Detail:      detail,
		OccurredAt:  e.OccurredAt,
		ReceivedAt:  e.ReceivedAt,
	}
}
