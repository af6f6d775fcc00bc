package worker

import (
	"context"
	"testing"
	"time"

	"reachflow/models"
	"reachflow/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateClassifier blocks every classification until released, standing in for
// a slow reply-intent service.
type gateClassifier struct {
	release chan struct{}
}

func (g *gateClassifier) Classify(ctx context.Context, message string) (orchestrator.Intent, error) {
	<-g.release
	return orchestrator.IntentOther, nil
}

type passDedup struct{}

func (passDedup) Seen(ctx context.Context, fingerprint string) (bool, error) { return false, nil }
func (passDedup) Forget(ctx context.Context, fingerprint string) error       { return nil }

func emailEvent(eventType, email, message string) orchestrator.CanonicalEvent {
	return orchestrator.CanonicalEvent{
		Platform:   orchestrator.PlatformSmartlead,
		Type:       eventType,
		Channel:    models.ChannelEmail,
		Email:      email,
		Message:    message,
		OccurredAt: time.Now().UTC(),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestEventPoolIsolatesSlowLeads(t *testing.T) {
	store := newFakeStore()

	slowLead := models.Lead{TenantID: 1, Email: "ada@one.test"}
	slowLead.ID = 1
	store.leads[slowLead.ID] = slowLead

	slowState := models.OrchestrationState{
		LeadID:           slowLead.ID,
		TenantID:         1,
		Status:           models.OrchestrationActive,
		EmailStepTotal:   2,
		EmailStepCurrent: 1,
	}
	slowState.ID = 1
	store.states[slowState.ID] = slowState

	gate := &gateClassifier{release: make(chan struct{})}
	engine := orchestrator.NewEngine(store, &stubAdapters{adapter: &stubAdapter{}}, gate,
		passDedup{}, orchestrator.NopLocker{},
		orchestrator.Policy{MaxDeployAttempts: 1}, testLogger())

	const workers = 8
	slow := emailEvent(orchestrator.EventEmailReplied, slowLead.Email, "thinking about it")

	// pick an identity that hashes to a different consumer than the slow lead
	fast := emailEvent(orchestrator.EventEmailOpened, "ben@two.test", "")
	for _, email := range []string{"ben@two.test", "cam@three.test", "dee@four.test", "eli@five.test", "fay@six.test"} {
		fast.Email = email
		if shardFor(fast, workers) != shardFor(slow, workers) {
			break
		}
	}
	require.NotEqual(t, shardFor(slow, workers), shardFor(fast, workers))

	fastLead := models.Lead{TenantID: 2, Email: fast.Email}
	fastLead.ID = 2
	store.leads[fastLead.ID] = fastLead

	fastState := models.OrchestrationState{
		LeadID:           fastLead.ID,
		TenantID:         2,
		Status:           models.OrchestrationActive,
		EmailStepTotal:   2,
		EmailStepCurrent: 1,
	}
	fastState.ID = 2
	store.states[fastState.ID] = fastState

	queue := make(chan orchestrator.CanonicalEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ew := NewEventWorker(engine, queue, workers, testLogger())
	go ew.Start(ctx)

	// the slow lead's reply is stuck in classification when the second
	// lead's event arrives
	queue <- slow
	queue <- fast

	assert.Eventually(t, func() bool {
		st, err := store.StateByLead(fastLead.ID)
		return err == nil && st.LastEventAt != nil
	}, 2*time.Second, 10*time.Millisecond, "independent lead advanced while another lead's call was in flight")

	assert.Eventually(t, func() bool {
		st, err := store.StateByLead(slowLead.ID)
		return err == nil && st.EmailReplied
	}, 2*time.Second, 10*time.Millisecond, "reply recorded before classification finishes")

	close(gate.release)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.logged) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
