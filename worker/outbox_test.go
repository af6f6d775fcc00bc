package worker

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"reachflow/models"
	"reachflow/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements the store methods the workers touch; anything else
// panics through the embedded nil interface.
type fakeStore struct {
	orchestrator.Store

	mu      sync.Mutex
	tenants map[uint]models.Tenant
	leads   map[uint]models.Lead
	outbox  []models.OutboxEvent
	states  map[uint]models.OrchestrationState
	stale   []models.StepDeployment
	logged  []models.WebhookEvent

	confirmed []models.StepDeployment
	released  []models.StepDeployment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants: make(map[uint]models.Tenant),
		leads:   make(map[uint]models.Lead),
		states:  make(map[uint]models.OrchestrationState),
	}
}

func (f *fakeStore) TenantByID(id uint) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, orchestrator.ErrStateNotFound
	}
	cp := t
	return &cp, nil
}

func (f *fakeStore) PendingOutbox(limit int) ([]models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutboxEvent
	for _, ev := range f.outbox {
		if ev.Status == models.OutboxPending {
			out = append(out, ev)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SaveOutbox(ev *models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.outbox {
		if f.outbox[i].EventID == ev.EventID {
			f.outbox[i] = *ev
			return nil
		}
	}
	f.outbox = append(f.outbox, *ev)
	return nil
}

func (f *fakeStore) EnqueueOutbox(ev *models.OutboxEvent) error {
	return f.SaveOutbox(ev)
}

func (f *fakeStore) LeadByEmail(tenantID uint, email string) (*models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lead := range f.leads {
		if tenantID != 0 && lead.TenantID != tenantID {
			continue
		}
		if strings.EqualFold(lead.Email, email) {
			cp := lead
			return &cp, nil
		}
	}
	return nil, orchestrator.ErrLeadNotFound
}

func (f *fakeStore) StateByLead(leadID uint) (*models.OrchestrationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st.LeadID == leadID {
			cp := st
			return &cp, nil
		}
	}
	return nil, orchestrator.ErrStateNotFound
}

func (f *fakeStore) LogEvent(ev *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, *ev)
	return nil
}

func (f *fakeStore) StateByID(id uint) (*models.OrchestrationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return nil, orchestrator.ErrStateNotFound
	}
	cp := st
	return &cp, nil
}

func (f *fakeStore) SaveState(st *models.OrchestrationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.states[st.ID]
	if !ok {
		return orchestrator.ErrStateNotFound
	}
	if stored.Version != st.Version {
		return orchestrator.ErrVersionConflict
	}
	st.Version++
	f.states[st.ID] = *st
	return nil
}

func (f *fakeStore) StaleDeployments(olderThan time.Time) ([]models.StepDeployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StepDeployment(nil), f.stale...), nil
}

func (f *fakeStore) ConfirmDeployment(stateID uint, channel string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, models.StepDeployment{StateID: stateID, Channel: channel, Position: position})
	return nil
}

func (f *fakeStore) ReleaseDeployment(stateID uint, channel string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, models.StepDeployment{StateID: stateID, Channel: channel, Position: position})
	return nil
}

func (f *fakeStore) outboxByID(eventID string) *models.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.outbox {
		if f.outbox[i].EventID == eventID {
			cp := f.outbox[i]
			return &cp
		}
	}
	return nil
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "TEST: ", log.LstdFlags)
}

func TestOutboxDeliversToTenantWebhook(t *testing.T) {
	var gotBody string
	var gotEventHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotEventHeader = r.Header.Get("X-Reachflow-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.tenants[1] = models.Tenant{NotifyWebhookURL: srv.URL}
	store.outbox = []models.OutboxEvent{{
		EventID:  "ev-1",
		TenantID: 1,
		LeadID:   10,
		Type:     models.OutboxStepDeployed,
		Payload:  `{"lead_id":10}`,
		Status:   models.OutboxPending,
	}}

	ow := NewOutboxWorker(store, srv.Client(), time.Second, 3, testLogger())
	ow.processPending(context.Background())

	ev := store.outboxByID("ev-1")
	require.NotNil(t, ev)
	assert.Equal(t, models.OutboxSent, ev.Status)
	assert.NotNil(t, ev.SentAt)
	assert.Equal(t, `{"lead_id":10}`, gotBody)
	assert.Equal(t, models.OutboxStepDeployed, gotEventHeader)
}

func TestOutboxDeadLettersAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.tenants[1] = models.Tenant{NotifyWebhookURL: srv.URL}
	store.outbox = []models.OutboxEvent{{
		EventID:  "ev-2",
		TenantID: 1,
		Type:     models.OutboxFailed,
		Status:   models.OutboxPending,
	}}

	ow := NewOutboxWorker(store, srv.Client(), time.Second, 2, testLogger())

	ow.processPending(context.Background())
	ev := store.outboxByID("ev-2")
	require.NotNil(t, ev)
	assert.Equal(t, models.OutboxPending, ev.Status, "still retryable after first failure")
	assert.Equal(t, 1, ev.Attempts)
	assert.Contains(t, ev.LastError, "502")

	ow.processPending(context.Background())
	ev = store.outboxByID("ev-2")
	assert.Equal(t, models.OutboxDead, ev.Status)
	assert.Equal(t, 2, ev.Attempts)
}

func TestReviewAlertCarriesProseReason(t *testing.T) {
	store := newFakeStore()
	store.tenants[1] = models.Tenant{OperatorEmail: "ops@acme.test"}
	store.outbox = []models.OutboxEvent{{
		EventID:  "ev-4",
		TenantID: 1,
		LeadID:   10,
		Type:     models.OutboxReviewNeeded,
		Channel:  models.ChannelEmail,
		Payload:  `{"lead_id":10,"review_reason":"email step 2 deploy failed: gateway timeout"}`,
		Status:   models.OutboxPending,
	}}

	ow := NewOutboxWorker(store, nil, time.Second, 3, testLogger())
	var gotTo, gotReason string
	ow.Alert = func(to string, leadID uint, channel, reason string) error {
		gotTo = to
		gotReason = reason
		return nil
	}

	ow.processPending(context.Background())

	assert.Equal(t, "ops@acme.test", gotTo)
	assert.Equal(t, "email step 2 deploy failed: gateway timeout", gotReason)

	assert.Equal(t, "orchestration flagged for human review",
		reviewReason(`{"lead_id":10}`), "payload without a reason falls back to a generic line")
}

func TestOutboxSkipsTenantsWithoutWebhook(t *testing.T) {
	store := newFakeStore()
	store.tenants[1] = models.Tenant{} // no NotifyWebhookURL
	store.outbox = []models.OutboxEvent{{
		EventID:  "ev-3",
		TenantID: 1,
		Type:     models.OutboxCompleted,
		Status:   models.OutboxPending,
	}}

	ow := NewOutboxWorker(store, nil, time.Second, 3, testLogger())
	ow.processPending(context.Background())

	ev := store.outboxByID("ev-3")
	require.NotNil(t, ev)
	assert.Equal(t, models.OutboxSent, ev.Status, "no-op delivery still drains the queue")
}
