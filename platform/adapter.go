package platform

import "context"

// LeadProfile is the subset of lead data a platform needs to start outreach.
type LeadProfile struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company"`
	Position    string `json:"position"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// StepContent is the payload for one outreach touch.
type StepContent struct {
	Position int    `json:"position"`
	Kind     string `json:"kind"` // email, connection_request, message, profile_visit
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
}

// LeadStatus is a platform-reported snapshot used for reconciliation.
type LeadStatus struct {
	PlatformLeadID string `json:"platform_lead_id"`
	Status         string `json:"status"`
	LastStepSent   int    `json:"last_step_sent"`
	Replied        bool   `json:"replied"`
}

// Adapter is the narrow contract the orchestrator depends on. Implementations
// are thin request/response wrappers with no business logic; every call is
// synchronous HTTP and every non-2xx response is a failure.
type Adapter interface {
	Channel() string

	// AddLeadToCampaign enrolls the lead and returns the platform-assigned id.
	AddLeadToCampaign(ctx context.Context, campaignID string, profile LeadProfile) (string, error)

	// SendNextStep deploys one step to an enrolled lead.
	SendNextStep(ctx context.Context, campaignID, platformLeadID string, content StepContent) error

	// GetLeadStatus fetches the platform's view of the lead.
	GetLeadStatus(ctx context.Context, campaignID, platformLeadID string) (*LeadStatus, error)

	// PauseLead stops further sends without removing the lead.
	PauseLead(ctx context.Context, campaignID, platformLeadID string) error

	// RemoveLead takes the lead off the campaign entirely.
	RemoveLead(ctx context.Context, campaignID, platformLeadID string) error
}
