package platform

import (
	"context"
	"fmt"
	"net/http"

	"reachflow/models"
)

const heyreachName = "heyreach"

// HeyReach is the LinkedIn outreach platform client. Authentication is an
// X-API-KEY header on every request.
type HeyReach struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHeyReach(baseURL, apiKey string, client *http.Client) *HeyReach {
	if client == nil {
		client = defaultHTTPClient
	}
	return &HeyReach{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (h *HeyReach) Channel() string { return models.ChannelLinkedIn }

func (h *HeyReach) headers() map[string]string {
	return map[string]string{"X-API-KEY": h.apiKey}
}

func (h *HeyReach) AddLeadToCampaign(ctx context.Context, campaignID string, profile LeadProfile) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		LeadID  string `json:"leadId"`
	}
	path := fmt.Sprintf("%s/campaigns/%s/leads", h.baseURL, campaignID)
	body := map[string]interface{}{
		"profileUrl": profile.LinkedInURL,
		"firstName":  profile.FirstName,
		"lastName":   profile.LastName,
		"company":    profile.Company,
		"email":      profile.Email,
	}
	if err := doJSON(ctx, h.client, heyreachName, "add_lead", http.MethodPost, path, h.headers(), body, &resp); err != nil {
		return "", err
	}
	if resp.LeadID == "" {
		return "", &Error{Platform: heyreachName, Op: "add_lead", Message: "response missing leadId"}
	}
	return resp.LeadID, nil
}

func (h *HeyReach) SendNextStep(ctx context.Context, campaignID, platformLeadID string, content StepContent) error {
	path := fmt.Sprintf("%s/campaigns/%s/leads/%s/actions", h.baseURL, campaignID, platformLeadID)
	body := map[string]interface{}{
		"actionType": content.Kind, // connection_request, message, profile_visit
		"message":    content.Body,
		"step":       content.Position,
	}
	return doJSON(ctx, h.client, heyreachName, "send_step", http.MethodPost, path, h.headers(), body, nil)
}

func (h *HeyReach) GetLeadStatus(ctx context.Context, campaignID, platformLeadID string) (*LeadStatus, error) {
	var resp struct {
		LeadID       string `json:"leadId"`
		Status       string `json:"status"`
		LastStepSent int    `json:"lastStepSent"`
		HasReplied   bool   `json:"hasReplied"`
	}
	path := fmt.Sprintf("%s/campaigns/%s/leads/%s", h.baseURL, campaignID, platformLeadID)
	if err := doJSON(ctx, h.client, heyreachName, "get_lead", http.MethodGet, path, h.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return &LeadStatus{
		PlatformLeadID: resp.LeadID,
		Status:         resp.Status,
		LastStepSent:   resp.LastStepSent,
		Replied:        resp.HasReplied,
	}, nil
}

func (h *HeyReach) PauseLead(ctx context.Context, campaignID, platformLeadID string) error {
	path := fmt.Sprintf("%s/campaigns/%s/leads/%s/pause", h.baseURL, campaignID, platformLeadID)
	return doJSON(ctx, h.client, heyreachName, "pause_lead", http.MethodPost, path, h.headers(), nil, nil)
}

func (h *HeyReach) RemoveLead(ctx context.Context, campaignID, platformLeadID string) error {
	path := fmt.Sprintf("%s/campaigns/%s/leads/%s", h.baseURL, campaignID, platformLeadID)
	return doJSON(ctx, h.client, heyreachName, "remove_lead", http.MethodDelete, path, h.headers(), nil, nil)
}
