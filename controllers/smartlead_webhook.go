package controller

import (
	"crypto/subtle"
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

// SmartleadWebhookController ingests Smartlead campaign webhooks. Handlers
// validate, normalize and enqueue; all state work happens on the event
// worker so the platform always gets a fast 200.
type SmartleadWebhookController struct {
	Queue  chan<- orchestrator.CanonicalEvent
	Logger *log.Logger
}

func NewSmartleadWebhookController(queue chan<- orchestrator.CanonicalEvent, logger *log.Logger) *SmartleadWebhookController {
	return &SmartleadWebhookController{
		Queue:  queue,
		Logger: logger,
	}
}

type smartleadPayload struct {
	EventType      string `json:"event_type"`
	CampaignID     int64  `json:"campaign_id"`
	LeadEmail      string `json:"to_email"`
	FromEmail      string `json:"from_email"`
	ReplyBody      string `json:"reply_body"`
	EventTimestamp string `json:"event_timestamp"`
	WebhookID      string `json:"webhook_id"`
}

func (sc *SmartleadWebhookController) HandleWebhook(c *fiber.Ctx) error {
	if !webhookSecretOK(c, config.AppConfig.Smartlead.WebhookSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid webhook secret",
		})
	}

	var payload smartleadPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payload",
		})
	}

	ev, err := NormalizeSmartleadEvent(payload)
	if err != nil {
		// Unknown event types are acknowledged, not rejected: Smartlead
		// retries non-2xx responses and adds types without notice.
		sc.Logger.Printf("Ignoring smartlead webhook: %v", err)
		return c.JSON(fiber.Map{"success": true, "ignored": true})
	}

	select {
	case sc.Queue <- *ev:
	default:
		sc.Logger.Printf("Event queue full, dropping smartlead %s for %s", ev.Type, ev.Email)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Queue full, retry later",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// NormalizeSmartleadEvent maps a raw Smartlead payload onto the canonical
// event shape the engine consumes.
func NormalizeSmartleadEvent(p smartleadPayload) (*orchestrator.CanonicalEvent, error) {
	var eventType string
	switch strings.ToUpper(p.EventType) {
	case "EMAIL_REPLY":
		eventType = orchestrator.EventEmailReplied
	case "EMAIL_OPEN":
		eventType = orchestrator.EventEmailOpened
	case "EMAIL_BOUNCE":
		eventType = orchestrator.EventBounced
	case "LEAD_UNSUBSCRIBED", "UNSUBSCRIBED":
		eventType = orchestrator.EventUnsubscribed
	case "LEAD_CATEGORY_UPDATED", "EMAIL_LINK_CLICK", "EMAIL_SENT":
		return nil, fmt.Errorf("uninteresting event type %q", p.EventType)
	default:
		return nil, fmt.Errorf("unknown event type %q", p.EventType)
	}

	if p.LeadEmail == "" {
		return nil, fmt.Errorf("%s event without lead email", p.EventType)
	}

	occurredAt := time.Now().UTC()
	if p.EventTimestamp != "" {
		if t, err := time.Parse(time.RFC3339, p.EventTimestamp); err == nil {
			occurredAt = t.UTC()
		}
	}

	receiptID := p.WebhookID
	if receiptID == "" {
		receiptID = uuid.New().String()
	}

	var campaignID string
	if p.CampaignID != 0 {
		campaignID = strconv.FormatInt(p.CampaignID, 10)
	}

	return &orchestrator.CanonicalEvent{
		ReceiptID:  receiptID,
		Platform:   orchestrator.PlatformSmartlead,
		Type:       eventType,
		Channel:    models.ChannelEmail,
		CampaignID: campaignID,
		Email:      strings.ToLower(strings.TrimSpace(p.LeadEmail)),
		Message:    p.ReplyBody,
		OccurredAt: occurredAt,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// webhookSecretOK compares the ?secret= query parameter in constant time.
func webhookSecretOK(c *fiber.Ctx, expected string) bool {
	if expected == "" {
		// unset secret means unauthenticated ingest (local development)
		return true
	}
	got := c.Query("secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
