package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"reachflow/models"
)

const smartleadName = "smartlead"

// Smartlead is the email outreach platform client. Authentication is an
// api_key query parameter on every request.
type Smartlead struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSmartlead(baseURL, apiKey string, client *http.Client) *Smartlead {
	if client == nil {
		client = defaultHTTPClient
	}
	return &Smartlead{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (s *Smartlead) Channel() string { return models.ChannelEmail }

func (s *Smartlead) url(path string) string {
	return fmt.Sprintf("%s%s?api_key=%s", s.baseURL, path, url.QueryEscape(s.apiKey))
}

func (s *Smartlead) AddLeadToCampaign(ctx context.Context, campaignID string, profile LeadProfile) (string, error) {
	var resp struct {
		OK     bool   `json:"ok"`
		LeadID string `json:"lead_id"`
	}
	path := fmt.Sprintf("/campaigns/%s/leads", campaignID)
	if err := doJSON(ctx, s.client, smartleadName, "add_lead", http.MethodPost, s.url(path), nil, profile, &resp); err != nil {
		return "", err
	}
	if resp.LeadID == "" {
		return "", &Error{Platform: smartleadName, Op: "add_lead", Message: "response missing lead_id"}
	}
	return resp.LeadID, nil
}

func (s *Smartlead) SendNextStep(ctx context.Context, campaignID, platformLeadID string, content StepContent) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s/message", campaignID, platformLeadID)
	body := map[string]interface{}{
		"sequence_number": content.Position,
		"subject":         content.Subject,
		"email_body":      content.Body,
	}
	return doJSON(ctx, s.client, smartleadName, "send_step", http.MethodPost, s.url(path), nil, body, nil)
}

func (s *Smartlead) GetLeadStatus(ctx context.Context, campaignID, platformLeadID string) (*LeadStatus, error) {
	var resp struct {
		LeadID       string `json:"lead_id"`
		Status       string `json:"status"`
		LastSequence int    `json:"last_sequence_sent"`
		Replied      bool   `json:"has_replied"`
	}
	path := fmt.Sprintf("/campaigns/%s/leads/%s", campaignID, platformLeadID)
	if err := doJSON(ctx, s.client, smartleadName, "get_lead", http.MethodGet, s.url(path), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &LeadStatus{
		PlatformLeadID: resp.LeadID,
		Status:         resp.Status,
		LastStepSent:   resp.LastSequence,
		Replied:        resp.Replied,
	}, nil
}

func (s *Smartlead) PauseLead(ctx context.Context, campaignID, platformLeadID string) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s/pause", campaignID, platformLeadID)
	return doJSON(ctx, s.client, smartleadName, "pause_lead", http.MethodPost, s.url(path), nil, nil, nil)
}

func (s *Smartlead) RemoveLead(ctx context.Context, campaignID, platformLeadID string) error {
	path := fmt.Sprintf("/campaigns/%s/leads/%s", campaignID, platformLeadID)
	return doJSON(ctx, s.client, smartleadName, "remove_lead", http.MethodDelete, s.url(path), nil, nil, nil)
}
