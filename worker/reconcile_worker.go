package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"reachflow/models"
	"reachflow/orchestrator"
)

// ReconcileWorker resolves deployment markers that were attempted but never
// confirmed, usually from a crash between the platform call and the state
// commit. It compares recorded state against what the platform reports and
// flags divergence for review rather than guessing.
type ReconcileWorker struct {
	Store    orchestrator.Store
	Adapters orchestrator.Adapters
	Engine   *orchestrator.Engine
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *log.Logger
}

func NewReconcileWorker(store orchestrator.Store, adapters orchestrator.Adapters, engine *orchestrator.Engine, interval, maxAge time.Duration, logger *log.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		Store:    store,
		Adapters: adapters,
		Engine:   engine,
		Interval: interval,
		MaxAge:   maxAge,
		Logger:   logger,
	}
}

func (rw *ReconcileWorker) Start(ctx context.Context) {
	time.Sleep(10 * time.Second)

	rw.Logger.Println("Reconcile worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Reconcile worker shutting down...")
			return
		case <-ticker.C:
			rw.reconcile(ctx)
		}
	}
}

func (rw *ReconcileWorker) reconcile(ctx context.Context) {
	stale, err := rw.Store.StaleDeployments(time.Now().Add(-rw.MaxAge))
	if err != nil {
		rw.Logger.Printf("Error fetching stale deployments: %v", err)
		return
	}

	for i := range stale {
		if err := rw.resolve(ctx, &stale[i]); err != nil {
			rw.Logger.Printf("Error resolving deployment %d: %v", stale[i].ID, err)
		}
	}
}

func (rw *ReconcileWorker) resolve(ctx context.Context, dep *models.StepDeployment) error {
	st, err := rw.Store.StateByID(dep.StateID)
	if err != nil {
		return fmt.Errorf("state load: %w", err)
	}

	// The advance committed but the confirm write was lost.
	if st.Cursor(dep.Channel) >= dep.Position {
		return rw.Store.ConfirmDeployment(dep.StateID, dep.Channel, dep.Position)
	}

	if st.NeedsReview {
		// already awaiting an operator; force-advance resolves the marker
		return nil
	}

	if st.Terminal() {
		// nothing left to advance, drop the marker
		return rw.Store.ReleaseDeployment(dep.StateID, dep.Channel, dep.Position)
	}

	platformLeadID := st.PlatformLeadID(dep.Channel)
	if platformLeadID == "" {
		// crash happened before the lead ever reached the platform
		return rw.Store.ReleaseDeployment(dep.StateID, dep.Channel, dep.Position)
	}

	tenant, err := rw.Store.TenantByID(st.TenantID)
	if err != nil {
		return fmt.Errorf("tenant load: %w", err)
	}

	adapter := rw.Adapters.Email(tenant)
	campaignID := tenant.SmartleadCampaignID
	if dep.Channel == models.ChannelLinkedIn {
		adapter = rw.Adapters.LinkedIn(tenant)
		campaignID = tenant.HeyReachCampaignID
	}

	status, err := adapter.GetLeadStatus(ctx, campaignID, platformLeadID)
	if err != nil {
		// platform unreachable, try again next pass
		return fmt.Errorf("platform status: %w", err)
	}

	if status.LastStepSent >= dep.Position {
		// The step reached the platform but our cursor never moved. A human
		// decides; re-deploying here would double-send.
		rw.Logger.Printf("Divergence on lead %d %s/%d: platform reports step %d sent",
			st.LeadID, dep.Channel, dep.Position, status.LastStepSent)
		return rw.Engine.FlagDivergence(st, dep.Channel,
			fmt.Sprintf("platform reports %s step %d sent but state shows %d", dep.Channel, status.LastStepSent, st.Cursor(dep.Channel)))
	}

	// Deploy never happened, release so the sweep can retry the position.
	return rw.Store.ReleaseDeployment(dep.StateID, dep.Channel, dep.Position)
}
