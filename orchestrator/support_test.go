package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"reachflow/models"
	"reachflow/platform"
)

// memStore is an in-memory Store with the same version-check semantics as
// the GORM implementation.
type memStore struct {
	mu sync.Mutex

	states      map[uint]models.OrchestrationState
	leads       map[uint]models.Lead
	sequences   map[uint]models.Sequence
	tenants     map[uint]models.Tenant
	deployments map[string]*models.StepDeployment
	events      []models.WebhookEvent
	outbox      []models.OutboxEvent

	nextStateID  uint
	nextDeployID uint

	// failSaves makes the next N SaveState calls error, simulating a
	// storage outage mid-application.
	failSaves int
}

func newMemStore() *memStore {
	return &memStore{
		states:      make(map[uint]models.OrchestrationState),
		leads:       make(map[uint]models.Lead),
		sequences:   make(map[uint]models.Sequence),
		tenants:     make(map[uint]models.Tenant),
		deployments: make(map[string]*models.StepDeployment),
	}
}

func deployKey(stateID uint, channel string, position int) string {
	return fmt.Sprintf("%d|%s|%d", stateID, channel, position)
}

func (m *memStore) CreateState(st *models.OrchestrationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.states {
		if existing.LeadID == st.LeadID {
			return fmt.Errorf("duplicate state for lead %d", st.LeadID)
		}
	}
	m.nextStateID++
	st.ID = m.nextStateID
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	m.states[st.ID] = *st
	return nil
}

func (m *memStore) StateByLead(leadID uint) (*models.OrchestrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		if st.LeadID == leadID {
			cp := st
			return &cp, nil
		}
	}
	return nil, ErrStateNotFound
}

func (m *memStore) StateByID(id uint) (*models.OrchestrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	cp := st
	return &cp, nil
}

func (m *memStore) SaveState(st *models.OrchestrationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return fmt.Errorf("storage unavailable")
	}
	stored, ok := m.states[st.ID]
	if !ok {
		return ErrStateNotFound
	}
	if stored.Version != st.Version {
		return ErrVersionConflict
	}
	st.Version++
	m.states[st.ID] = *st
	return nil
}

func (m *memStore) SweepCandidates(limit int) ([]models.OrchestrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrchestrationState
	for _, st := range m.states {
		if st.Status == models.OrchestrationActive && !st.NeedsReview {
			out = append(out, st)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) LeadByID(id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	cp := lead
	return &cp, nil
}

func (m *memStore) LeadByEmail(tenantID uint, email string) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if tenantID != 0 && lead.TenantID != tenantID {
			continue
		}
		if strings.EqualFold(lead.Email, email) {
			cp := lead
			return &cp, nil
		}
	}
	return nil, ErrLeadNotFound
}

func (m *memStore) LeadByProfileURL(tenantID uint, url string) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if tenantID != 0 && lead.TenantID != tenantID {
			continue
		}
		if NormalizeProfileURL(lead.LinkedInURL) == url {
			cp := lead
			return &cp, nil
		}
	}
	return nil, ErrLeadNotFound
}

func (m *memStore) SaveLead(lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = *lead
	return nil
}

func (m *memStore) SequenceByID(id uint) (*models.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[id]
	if !ok {
		return nil, fmt.Errorf("sequence %d not found", id)
	}
	cp := seq
	return &cp, nil
}

func (m *memStore) TenantByID(id uint) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %d not found", id)
	}
	cp := tenant
	return &cp, nil
}

func (m *memStore) TenantByCampaign(platformName, campaignID string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tenant := range m.tenants {
		id := tenant.SmartleadCampaignID
		if platformName == PlatformHeyReach {
			id = tenant.HeyReachCampaignID
		}
		if id == campaignID {
			cp := tenant
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no tenant owns %s campaign %s", platformName, campaignID)
}

func (m *memStore) MarkDeployment(stateID, leadID uint, channel string, position int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deployKey(stateID, channel, position)
	if _, exists := m.deployments[key]; exists {
		return false, nil
	}
	m.nextDeployID++
	dep := &models.StepDeployment{
		StateID:  stateID,
		LeadID:   leadID,
		Channel:  channel,
		Position: position,
		Status:   models.DeploymentAttempted,
	}
	dep.ID = m.nextDeployID
	dep.CreatedAt = time.Now()
	m.deployments[key] = dep
	return true, nil
}

func (m *memStore) ConfirmDeployment(stateID uint, channel string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dep, ok := m.deployments[deployKey(stateID, channel, position)]; ok {
		now := time.Now()
		dep.Status = models.DeploymentConfirmed
		dep.ConfirmedAt = &now
	}
	return nil
}

func (m *memStore) ReleaseDeployment(stateID uint, channel string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deployKey(stateID, channel, position)
	if dep, ok := m.deployments[key]; ok && dep.Status == models.DeploymentAttempted {
		delete(m.deployments, key)
	}
	return nil
}

func (m *memStore) StaleDeployments(olderThan time.Time) ([]models.StepDeployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StepDeployment
	for _, dep := range m.deployments {
		if dep.Status == models.DeploymentAttempted && dep.CreatedAt.Before(olderThan) {
			out = append(out, *dep)
		}
	}
	return out, nil
}

func (m *memStore) LogEvent(ev *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) EnqueueOutbox(ev *models.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, *ev)
	return nil
}

func (m *memStore) PendingOutbox(limit int) ([]models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxEvent
	for _, ev := range m.outbox {
		if ev.Status == models.OutboxPending {
			out = append(out, ev)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SaveOutbox(ev *models.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].EventID == ev.EventID {
			m.outbox[i] = *ev
			return nil
		}
	}
	m.outbox = append(m.outbox, *ev)
	return nil
}

func (m *memStore) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, ev := range m.outbox {
		types = append(types, ev.Type)
	}
	return types
}

func (m *memStore) deployment(stateID uint, channel string, position int) *models.StepDeployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dep, ok := m.deployments[deployKey(stateID, channel, position)]; ok {
		cp := *dep
		return &cp
	}
	return nil
}

// fakeAdapter records calls and fails on demand.
type fakeAdapter struct {
	mu      sync.Mutex
	channel string

	nextLeadID string
	addErr     error
	sendErr    error
	removeErr  error
	status     *platform.LeadStatus
	statusErr  error
	sendHook   func()

	addCalls    int
	sendCalls   []platform.StepContent
	pauseCalls  int
	removeCalls int
}

func newFakeAdapter(channel, leadID string) *fakeAdapter {
	return &fakeAdapter{channel: channel, nextLeadID: leadID}
}

func (f *fakeAdapter) Channel() string { return f.channel }

func (f *fakeAdapter) AddLeadToCampaign(ctx context.Context, campaignID string, profile platform.LeadProfile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return "", f.addErr
	}
	return f.nextLeadID, nil
}

func (f *fakeAdapter) SendNextStep(ctx context.Context, campaignID, platformLeadID string, content platform.StepContent) error {
	if f.sendHook != nil {
		f.sendHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, content)
	return f.sendErr
}

func (f *fakeAdapter) GetLeadStatus(ctx context.Context, campaignID, platformLeadID string) (*platform.LeadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status, nil
	}
	return &platform.LeadStatus{PlatformLeadID: platformLeadID}, nil
}

func (f *fakeAdapter) PauseLead(ctx context.Context, campaignID, platformLeadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return nil
}

func (f *fakeAdapter) RemoveLead(ctx context.Context, campaignID, platformLeadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	return f.removeErr
}

func (f *fakeAdapter) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sendCalls)
}

// fakeAdapters satisfies Adapters with one fake per channel.
type fakeAdapters struct {
	email    *fakeAdapter
	linkedin *fakeAdapter
}

func newFakeAdapters() *fakeAdapters {
	return &fakeAdapters{
		email:    newFakeAdapter(models.ChannelEmail, "sl-100"),
		linkedin: newFakeAdapter(models.ChannelLinkedIn, "hr-200"),
	}
}

func (f *fakeAdapters) Email(tenant *models.Tenant) platform.Adapter    { return f.email }
func (f *fakeAdapters) LinkedIn(tenant *models.Tenant) platform.Adapter { return f.linkedin }

// memDedup marks fingerprints in a map.
type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]bool)}
}

func (d *memDedup) Seen(ctx context.Context, fingerprint string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[fingerprint] {
		return true, nil
	}
	d.seen[fingerprint] = true
	return false, nil
}

func (d *memDedup) Forget(ctx context.Context, fingerprint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, fingerprint)
	return nil
}

// scriptClassifier returns a fixed intent.
type scriptClassifier struct {
	intent Intent
	err    error
}

func (s *scriptClassifier) Classify(ctx context.Context, message string) (Intent, error) {
	return s.intent, s.err
}

// fixture wires an engine against fakes with a controllable clock.
type fixture struct {
	engine     *Engine
	store      *memStore
	adapters   *fakeAdapters
	classifier *scriptClassifier
	dedup      *memDedup
	clock      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store:      newMemStore(),
		adapters:   newFakeAdapters(),
		classifier: &scriptClassifier{intent: IntentOther},
		dedup:      newMemDedup(),
		clock:      time.Now().UTC(),
	}
	f.engine = NewEngine(f.store, f.adapters, f.classifier, f.dedup, NopLocker{},
		Policy{
			EmailStepWait:     72 * time.Hour,
			LinkedInStepWait:  48 * time.Hour,
			EngagementGrace:   24 * time.Hour,
			MaxDeployAttempts: 2,
		},
		log.New(os.Stdout, "TEST: ", log.LstdFlags))
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advanceClock(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// seedMultiChannel creates a tenant, a lead and an approved sequence with
// three steps per channel, returning the lead and sequence ids.
func (f *fixture) seedMultiChannel() (uint, uint) {
	tenant := models.Tenant{
		Name:                "Acme",
		SmartleadCampaignID: "sl-camp-1",
		HeyReachCampaignID:  "hr-camp-1",
		OperatorEmail:       "ops@acme.test",
	}
	tenant.ID = 1
	f.store.tenants[tenant.ID] = tenant

	lead := models.Lead{
		TenantID:    tenant.ID,
		Email:       "jordan@prospect.test",
		LinkedInURL: "https://www.linkedin.com/in/jordan-prospect/",
		FirstName:   "Jordan",
	}
	lead.ID = 10
	f.store.leads[lead.ID] = lead

	seq := models.Sequence{
		LeadID:   lead.ID,
		TenantID: tenant.ID,
		Mode:     models.ModeMultiChannel,
		Status:   models.SequenceApproved,
		EmailSteps: []models.EmailStep{
			{Position: 1, Subject: "Quick question", Body: "Hi Jordan"},
			{Position: 2, Subject: "Following up", Body: "Bumping this"},
			{Position: 3, Subject: "Last note", Body: "Closing the loop"},
		},
		LinkedInSteps: []models.LinkedInStep{
			{Position: 1, Type: models.LinkedInStepConnectionRequest, Body: "Let's connect"},
			{Position: 2, Type: models.LinkedInStepMessage, Body: "Thanks for connecting"},
			{Position: 3, Type: models.LinkedInStepMessage, Body: "Any thoughts?"},
		},
	}
	seq.ID = 100
	f.store.sequences[seq.ID] = seq
	return lead.ID, seq.ID
}

// seedEmailOnly creates a one-step email-only plan.
func (f *fixture) seedEmailOnly() (uint, uint) {
	tenant := models.Tenant{Name: "Solo", SmartleadCampaignID: "sl-camp-9"}
	tenant.ID = 2
	f.store.tenants[tenant.ID] = tenant

	lead := models.Lead{TenantID: tenant.ID, Email: "sam@prospect.test"}
	lead.ID = 20
	f.store.leads[lead.ID] = lead

	seq := models.Sequence{
		LeadID:   lead.ID,
		TenantID: tenant.ID,
		Mode:     models.ModeEmailOnly,
		Status:   models.SequenceApproved,
		EmailSteps: []models.EmailStep{
			{Position: 1, Subject: "Hello", Body: "One and done"},
		},
	}
	seq.ID = 200
	f.store.sequences[seq.ID] = seq
	return lead.ID, seq.ID
}

func (f *fixture) linkedinEvent(eventType string, at time.Time) CanonicalEvent {
	return CanonicalEvent{
		Platform:   PlatformHeyReach,
		Type:       eventType,
		Channel:    models.ChannelLinkedIn,
		ProfileURL: "https://www.linkedin.com/in/jordan-prospect/",
		OccurredAt: at,
		ReceivedAt: at,
	}
}

func (f *fixture) emailEvent(eventType, message string, at time.Time) CanonicalEvent {
	return CanonicalEvent{
		Platform:   PlatformSmartlead,
		Type:       eventType,
		Channel:    models.ChannelEmail,
		Email:      "jordan@prospect.test",
		Message:    message,
		OccurredAt: at,
		ReceivedAt: at,
	}
}
