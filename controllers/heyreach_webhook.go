package controller

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"reachflow/config"
	"reachflow/models"
	"reachflow/orchestrator"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeyReachWebhookController ingests HeyReach LinkedIn webhooks.
type HeyReachWebhookController struct {
	Queue  chan<- orchestrator.CanonicalEvent
	Logger *log.Logger
}

func NewHeyReachWebhookController(queue chan<- orchestrator.CanonicalEvent, logger *log.Logger) *HeyReachWebhookController {
	return &HeyReachWebhookController{
		Queue:  queue,
		Logger: logger,
	}
}

type heyreachPayload struct {
	EventType  string `json:"eventType"`
	EventID    string `json:"eventId"`
	CampaignID int64  `json:"campaignId"`
	Timestamp  string `json:"timestamp"`
	Message    string `json:"message"`
	Lead       struct {
		ProfileURL string `json:"profileUrl"`
		Email      string `json:"email"`
		FirstName  string `json:"firstName"`
		LastName   string `json:"lastName"`
	} `json:"lead"`
}

func (hc *HeyReachWebhookController) HandleWebhook(c *fiber.Ctx) error {
	if !webhookSecretOK(c, config.AppConfig.HeyReach.WebhookSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid webhook secret",
		})
	}

	var payload heyreachPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payload",
		})
	}

	ev, err := NormalizeHeyReachEvent(payload)
	if err != nil {
		hc.Logger.Printf("Ignoring heyreach webhook: %v", err)
		return c.JSON(fiber.Map{"success": true, "ignored": true})
	}

	select {
	case hc.Queue <- *ev:
	default:
		hc.Logger.Printf("Event queue full, dropping heyreach %s for %s", ev.Type, ev.ProfileURL)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Queue full, retry later",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// NormalizeHeyReachEvent maps a raw HeyReach payload onto the canonical
// event shape the engine consumes.
func NormalizeHeyReachEvent(p heyreachPayload) (*orchestrator.CanonicalEvent, error) {
	var eventType string
	switch strings.ToUpper(p.EventType) {
	case "CONNECTION_REQUEST_ACCEPTED", "CONNECTION_ACCEPTED":
		eventType = orchestrator.EventConnectionAccepted
	case "MESSAGE_REPLY_RECEIVED", "INMAIL_REPLY_RECEIVED", "MESSAGE_RECEIVED":
		eventType = orchestrator.EventMessageReceived
	case "PROFILE_VIEWED":
		eventType = orchestrator.EventProfileViewed
	case "MEETING_BOOKED":
		eventType = orchestrator.EventMeetingBooked
	case "CONNECTION_REQUEST_SENT", "MESSAGE_SENT", "LIKED_POST", "FOLLOWED":
		return nil, fmt.Errorf("uninteresting event type %q", p.EventType)
	default:
		return nil, fmt.Errorf("unknown event type %q", p.EventType)
	}

	if p.Lead.ProfileURL == "" && p.Lead.Email == "" {
		return nil, fmt.Errorf("%s event without lead identity", p.EventType)
	}

	occurredAt := time.Now().UTC()
	if p.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			occurredAt = t.UTC()
		}
	}

	receiptID := p.EventID
	if receiptID == "" {
		receiptID = uuid.New().String()
	}

	var campaignID string
	if p.CampaignID != 0 {
		campaignID = strconv.FormatInt(p.CampaignID, 10)
	}

	return &orchestrator.CanonicalEvent{
		ReceiptID:  receiptID,
		Platform:   orchestrator.PlatformHeyReach,
		Type:       eventType,
		Channel:    models.ChannelLinkedIn,
		CampaignID: campaignID,
		Email:      strings.ToLower(strings.TrimSpace(p.Lead.Email)),
		ProfileURL: p.Lead.ProfileURL,
		Message:    p.Message,
		OccurredAt: occurredAt,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
