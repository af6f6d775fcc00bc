package controller

import (
	"log"
	"time"

	"reachflow/config"
	"reachflow/models"

	"github.com/gofiber/websocket/v2"
)

// HandleOrchestrationWS streams state snapshots for one lead until the
// orchestration reaches a terminal status or the client disconnects. The
// client sends {"lead_id": N} once after connecting.
func HandleOrchestrationWS(c *websocket.Conn) {
	defer c.Close()

	tenantID, ok := c.Locals("tenantID").(uint)
	if !ok {
		log.Printf("Websocket without tenant context")
		return
	}

	var input struct {
		LeadID uint `json:"lead_id"`
	}
	if err := c.ReadJSON(&input); err != nil {
		log.Printf("Error reading JSON: %v", err)
		return
	}

	lastVersion := -1
	for {
		var state models.OrchestrationState
		err := config.DB.
			Where("lead_id = ? AND tenant_id = ?", input.LeadID, tenantID).
			First(&state).Error
		if err != nil {
			_ = c.WriteJSON(map[string]string{"error": "orchestration not found"})
			return
		}

		// push only when something changed
		if state.Version != lastVersion {
			lastVersion = state.Version
			snapshot := struct {
				Status        string `json:"status"`
				EmailStep     int    `json:"email_step"`
				EmailTotal    int    `json:"email_total"`
				LinkedInStep  int    `json:"linkedin_step"`
				LinkedInTotal int    `json:"linkedin_total"`
				NeedsReview   bool   `json:"needs_review"`
				ReviewReason  string `json:"review_reason,omitempty"`
				Terminal      bool   `json:"terminal"`
				Reason        string `json:"reason,omitempty"`
			}{
				Status:        state.Status,
				EmailStep:     state.EmailStepCurrent,
				EmailTotal:    state.EmailStepTotal,
				LinkedInStep:  state.LinkedInStepCurrent,
				LinkedInTotal: state.LinkedInStepTotal,
				NeedsReview:   state.NeedsReview,
				ReviewReason:  state.ReviewReason,
				Terminal:      state.Terminal(),
				Reason:        state.TerminalReason,
			}
			if err := c.WriteJSON(snapshot); err != nil {
				log.Printf("Error writing JSON: %v", err)
				return
			}
		}

		if state.Terminal() {
			return
		}
		time.Sleep(2 * time.Second)
	}
}
