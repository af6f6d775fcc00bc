package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"reachflow/models"
	"reachflow/orchestrator"
	"reachflow/utils"
)

// OutboxWorker delivers pending outbox events to each tenant's notification
// webhook. Review events additionally alert the tenant operator by email.
type OutboxWorker struct {
	Store       orchestrator.Store
	Client      *http.Client
	Interval    time.Duration
	MaxAttempts int
	Logger      *log.Logger

	// Alert sends the operator review email. Swappable in tests.
	Alert func(to string, leadID uint, channel, reason string) error
}

func NewOutboxWorker(store orchestrator.Store, client *http.Client, interval time.Duration, maxAttempts int, logger *log.Logger) *OutboxWorker {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OutboxWorker{
		Store:       store,
		Client:      client,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		Logger:      logger,
		Alert:       utils.SendReviewAlert,
	}
}

func (ow *OutboxWorker) Start(ctx context.Context) {
	time.Sleep(10 * time.Second)

	ow.Logger.Println("Outbox worker started")

	ticker := time.NewTicker(ow.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ow.Logger.Println("Outbox worker shutting down...")
			return
		case <-ticker.C:
			ow.processPending(ctx)
		}
	}
}

func (ow *OutboxWorker) processPending(ctx context.Context) {
	events, err := ow.Store.PendingOutbox(100)
	if err != nil {
		ow.Logger.Printf("Error fetching pending outbox events: %v", err)
		return
	}

	for i := range events {
		ev := &events[i]
		if err := ow.deliver(ctx, ev); err != nil {
			ev.Attempts++
			ev.LastError = err.Error()
			if ev.Attempts >= ow.MaxAttempts {
				ev.Status = models.OutboxDead
				ow.Logger.Printf("Outbox event %s dead after %d attempts: %v", ev.EventID, ev.Attempts, err)
				utils.LogError(err, "outbox_delivery_dead", map[string]interface{}{
					"event_id": ev.EventID,
					"type":     ev.Type,
				})
			}
		} else {
			now := time.Now()
			ev.Status = models.OutboxSent
			ev.SentAt = &now
			ev.LastError = ""
		}
		if err := ow.Store.SaveOutbox(ev); err != nil {
			ow.Logger.Printf("Error saving outbox event %s: %v", ev.EventID, err)
		}
	}
}

func (ow *OutboxWorker) deliver(ctx context.Context, ev *models.OutboxEvent) error {
	tenant, err := ow.Store.TenantByID(ev.TenantID)
	if err != nil {
		return fmt.Errorf("tenant lookup: %w", err)
	}

	if ev.Type == models.OutboxReviewNeeded && tenant.OperatorEmail != "" {
		if err := ow.Alert(tenant.OperatorEmail, ev.LeadID, ev.Channel, reviewReason(ev.Payload)); err != nil {
			// alert failures never block webhook delivery
			ow.Logger.Printf("Review alert email failed for lead %d: %v", ev.LeadID, err)
		}
	}

	if tenant.NotifyWebhookURL == "" {
		// tenant opted out of webhooks, delivery is a no-op
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.NotifyWebhookURL, bytes.NewBufferString(ev.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reachflow-Event", ev.Type)
	req.Header.Set("X-Reachflow-Event-ID", ev.EventID)

	resp, err := ow.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// reviewReason pulls the human-readable reason out of an outbox payload so
// the operator email carries prose instead of raw JSON.
func reviewReason(payload string) string {
	var body struct {
		ReviewReason string `json:"review_reason"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err == nil && body.ReviewReason != "" {
		return body.ReviewReason
	}
	return "orchestration flagged for human review"
}
