package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"reachflow/models"
	"reachflow/platform"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
)

// Command errors surfaced to callers
var (
	ErrAlreadyOrchestrating = errors.New("lead already has an active orchestration")
	ErrSequenceNotApproved  = errors.New("sequence is not approved for deployment")
	ErrSequenceLeadMismatch = errors.New("sequence belongs to a different lead")
	ErrNotActive            = errors.New("orchestration is not active")
	ErrNotPaused            = errors.New("orchestration is not paused")
	ErrTerminal             = errors.New("orchestration already reached a terminal status")
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrLeadBusy             = errors.New("lead is mid-advancement, try again")
	ErrCancelIncomplete     = errors.New("platform removal failed, cancellation not applied")
)

// Advancement triggers
const (
	TriggerStart   = "start"
	TriggerEvent   = "event"
	TriggerTimeout = "timeout"
	TriggerForce   = "force"
)

// Policy holds the externally supplied cadence configuration.
type Policy struct {
	EmailStepWait     time.Duration
	LinkedInStepWait  time.Duration
	EngagementGrace   time.Duration
	MaxDeployAttempts int
}

// Adapters resolves platform clients for a tenant.
type Adapters interface {
	Email(tenant *models.Tenant) platform.Adapter
	LinkedIn(tenant *models.Tenant) platform.Adapter
}

// Engine drives each lead's per-channel progression. Webhook events and the
// timeout sweep both funnel into the same advancement path; per-lead advisory
// locks plus the state version check keep the two triggers from
// double-advancing a cursor, and deployment markers keep a step from ever
// reaching a platform twice.
type Engine struct {
	store      Store
	adapters   Adapters
	classifier Classifier
	dedup      Dedup
	locks      Locker
	policy     Policy
	logger     *log.Logger

	now func() time.Time
}

func NewEngine(store Store, adapters Adapters, classifier Classifier, dedup Dedup, locks Locker, policy Policy, logger *log.Logger) *Engine {
	return &Engine{
		store:      store,
		adapters:   adapters,
		classifier: classifier,
		dedup:      dedup,
		locks:      locks,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// Start creates orchestration state for an approved sequence and deploys the
// first step on every enabled channel.
func (e *Engine) Start(ctx context.Context, leadID, sequenceID uint) (*models.OrchestrationState, error) {
	lead, err := e.store.LeadByID(leadID)
	if err != nil {
		return nil, err
	}
	seq, err := e.store.SequenceByID(sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != models.SequenceApproved {
		return nil, ErrSequenceNotApproved
	}
	if seq.LeadID != leadID {
		return nil, ErrSequenceLeadMismatch
	}

	if existing, err := e.store.StateByLead(leadID); err == nil {
		if !existing.Terminal() {
			return nil, ErrAlreadyOrchestrating
		}
	} else if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	st := &models.OrchestrationState{
		LeadID:     leadID,
		TenantID:   lead.TenantID,
		SequenceID: sequenceID,
		Status:     models.OrchestrationPending,
	}
	if seq.EmailEnabled() {
		st.EmailStepTotal = len(seq.EmailSteps)
	}
	if seq.LinkedInEnabled() {
		st.LinkedInStepTotal = len(seq.LinkedInSteps)
	}
	if err := e.store.CreateState(st); err != nil {
		return nil, err
	}

	tenant, err := e.store.TenantByID(lead.TenantID)
	if err != nil {
		return nil, err
	}

	for _, ch := range enabledChannels(seq) {
		if err := e.advanceChannel(ctx, st, lead, seq, tenant, ch, TriggerStart); err != nil {
			e.logger.Printf("Initial deploy on %s failed for lead %d: %v", ch, leadID, err)
		}
	}

	if st.Status == models.OrchestrationPending && allHalted(st, seq) {
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.Status = models.OrchestrationFailed
			s.TerminalReason = "no channel could deploy"
		}); err != nil {
			return nil, err
		}
		e.emit(st, models.OutboxFailed, "")
	}

	return st, nil
}

// HandleEvent consumes one canonical event: dedup, identity resolution, state
// mutation, and possibly a channel advancement.
func (e *Engine) HandleEvent(ctx context.Context, ev CanonicalEvent) error {
	if ev.ReceiptID == "" {
		ev.ReceiptID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = e.now()
	}

	dup, err := e.dedup.Seen(ctx, ev.Fingerprint())
	if err != nil {
		// dedup backend down: proceed, deployment markers still protect
		e.logger.Printf("Dedup check failed for %s: %v", ev.Fingerprint(), err)
	}
	if dup {
		_ = e.store.LogEvent(ev.AuditRecord(nil, models.EventDuplicate, ""))
		return nil
	}

	lead := e.resolveLead(ev)
	if lead == nil {
		// Expected under multi-tenant noise, not an error.
		_ = e.store.LogEvent(ev.AuditRecord(nil, models.EventDropped, "no matching lead"))
		return nil
	}

	st, err := e.store.StateByLead(lead.ID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			_ = e.store.LogEvent(ev.AuditRecord(&lead.ID, models.EventDropped, "no orchestration state"))
			return nil
		}
		return err
	}

	release, ok := e.locks.Acquire(ctx, lead.ID)
	if !ok {
		// Another trigger holds the lead; wait briefly and take our chances,
		// the version check arbitrates whichever write lands second.
		time.Sleep(200 * time.Millisecond)
		if r2, ok2 := e.locks.Acquire(ctx, lead.ID); ok2 {
			release = r2
		} else {
			release = func() {}
		}
	}
	defer release()

	// fresh read now that we hold the lead
	if st, err = e.store.StateByID(st.ID); err != nil {
		return err
	}
	if st.Terminal() {
		_ = e.store.LogEvent(ev.AuditRecord(&lead.ID, models.EventDropped, "terminal state"))
		return nil
	}

	applyErr := e.applyEvent(ctx, ev, st, lead)
	outcome, detail := models.EventApplied, ""
	if applyErr != nil {
		outcome, detail = models.EventError, applyErr.Error()
		// unmark so the platform's retry of this delivery gets another shot
		if err := e.dedup.Forget(ctx, ev.Fingerprint()); err != nil {
			e.logger.Printf("Failed to clear dedup mark %s: %v", ev.Fingerprint(), err)
		}
	}
	if err := e.store.LogEvent(ev.AuditRecord(&lead.ID, outcome, detail)); err != nil {
		e.logger.Printf("Failed to log event %s: %v", ev.ReceiptID, err)
	}
	return applyErr
}

// Sweep advances every silent active lead whose current step exceeded its
// wait window. Safe to run concurrently with event-driven advancement.
func (e *Engine) Sweep(ctx context.Context) {
	states, err := e.store.SweepCandidates(500)
	if err != nil {
		e.logger.Printf("Sweep query failed: %v", err)
		return
	}
	for i := range states {
		e.sweepLead(ctx, &states[i])
	}
}

// Pause suspends an active orchestration. The sweep skips paused leads
// entirely.
func (e *Engine) Pause(leadID uint) (*models.OrchestrationState, error) {
	st, err := e.store.StateByLead(leadID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, ErrTerminal
	}
	if st.Status != models.OrchestrationActive {
		return nil, ErrNotActive
	}
	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		if s.Status == models.OrchestrationActive {
			s.Status = models.OrchestrationPaused
		}
	}); err != nil {
		return nil, err
	}
	return st, nil
}

// Resume reactivates a paused orchestration.
func (e *Engine) Resume(leadID uint) (*models.OrchestrationState, error) {
	st, err := e.store.StateByLead(leadID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, ErrTerminal
	}
	if st.Status != models.OrchestrationPaused {
		return nil, ErrNotPaused
	}
	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		if s.Status == models.OrchestrationPaused {
			s.Status = models.OrchestrationActive
		}
	}); err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel removes the lead from every platform where it is enrolled and marks
// the orchestration cancelled. If a removal fails the status is left
// untouched so the operator can retry.
func (e *Engine) Cancel(ctx context.Context, leadID uint, reason string) (*models.OrchestrationState, error) {
	st, err := e.store.StateByLead(leadID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, ErrTerminal
	}
	lead, err := e.store.LeadByID(leadID)
	if err != nil {
		return nil, err
	}

	// Cancellation is a priority write: proceed even when the lead is
	// contended, in-flight advancements abort at their pre-commit check.
	release, _ := e.locks.Acquire(ctx, leadID)
	defer release()

	if err := e.cancelInternal(ctx, st, lead, reason); err != nil {
		return st, err
	}
	return st, nil
}

// ForceAdvance is the operator override: it clears the review flag, releases
// any unconfirmed deployment marker for the next position and advances the
// channel ignoring the engagement deferral.
func (e *Engine) ForceAdvance(ctx context.Context, leadID uint, channel string) (*models.OrchestrationState, error) {
	if channel != models.ChannelEmail && channel != models.ChannelLinkedIn {
		return nil, ErrUnknownChannel
	}
	st, err := e.store.StateByLead(leadID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, ErrTerminal
	}

	release, ok := e.locks.Acquire(ctx, leadID)
	if !ok {
		return nil, ErrLeadBusy
	}
	defer release()

	if st, err = e.store.StateByID(st.ID); err != nil {
		return nil, err
	}

	lead, err := e.store.LeadByID(leadID)
	if err != nil {
		return nil, err
	}
	seq, err := e.store.SequenceByID(st.SequenceID)
	if err != nil {
		return nil, err
	}
	tenant, err := e.store.TenantByID(st.TenantID)
	if err != nil {
		return nil, err
	}

	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		s.NeedsReview = false
		s.ReviewReason = ""
	}); err != nil {
		return nil, err
	}
	// release a marker from a failed attempt; confirmed markers stay
	if err := e.store.ReleaseDeployment(st.ID, channel, st.Cursor(channel)+1); err != nil {
		return nil, err
	}

	if err := e.advanceChannel(ctx, st, lead, seq, tenant, channel, TriggerForce); err != nil {
		return st, err
	}
	return st, nil
}

// Snapshot returns the current state for a lead.
func (e *Engine) Snapshot(leadID uint) (*models.OrchestrationState, error) {
	return e.store.StateByLead(leadID)
}

// --- event application ---

func (e *Engine) applyEvent(ctx context.Context, ev CanonicalEvent, st *models.OrchestrationState, lead *models.Lead) error {
	touch := func(s *models.OrchestrationState) {
		// source timestamps, not receipt order
		if s.LastEventAt == nil || ev.OccurredAt.After(*s.LastEventAt) {
			t := ev.OccurredAt
			s.LastEventAt = &t
		}
	}

	switch ev.Type {
	case EventConnectionAccepted:
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.LinkedInConnected = true
			touch(s)
		}); err != nil {
			return err
		}
		if st.Status == models.OrchestrationActive {
			return e.advanceForLead(ctx, st, lead, models.ChannelLinkedIn, TriggerEvent)
		}
		return nil

	case EventMessageReceived:
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.LinkedInReplied = true
			touch(s)
		}); err != nil {
			return err
		}
		return e.handleReply(ctx, st, lead, models.ChannelLinkedIn, ev.Message)

	case EventEmailReplied:
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.EmailReplied = true
			touch(s)
		}); err != nil {
			return err
		}
		return e.handleReply(ctx, st, lead, models.ChannelEmail, ev.Message)

	case EventEmailOpened, EventProfileViewed:
		return e.mutateState(st, touch)

	case EventBounced:
		lead.IsBounced = true
		if err := e.store.SaveLead(lead); err != nil {
			e.logger.Printf("Failed to flag lead %d bounced: %v", lead.ID, err)
		}
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.Halt(models.ChannelEmail, "email bounced")
			touch(s)
		}); err != nil {
			return err
		}
		return e.finalizeIfDone(st)

	case EventUnsubscribed:
		lead.IsUnsubscribed = true
		if err := e.store.SaveLead(lead); err != nil {
			e.logger.Printf("Failed to flag lead %d unsubscribed: %v", lead.ID, err)
		}
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.Halt(models.ChannelEmail, "lead unsubscribed")
			touch(s)
		}); err != nil {
			return err
		}
		return e.finalizeIfDone(st)

	case EventMeetingBooked:
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			s.Status = models.OrchestrationCompleted
			s.TerminalReason = "meeting booked"
			touch(s)
		}); err != nil {
			return err
		}
		e.emit(st, models.OutboxCompleted, ev.Channel)
		e.pauseOnPlatforms(ctx, st)
		return nil
	}

	return fmt.Errorf("unhandled event type %q", ev.Type)
}

func (e *Engine) handleReply(ctx context.Context, st *models.OrchestrationState, lead *models.Lead, channel, message string) error {
	intent := IntentOther
	if e.classifier != nil && message != "" {
		var err error
		intent, err = e.classifier.Classify(ctx, message)
		if err != nil {
			e.logger.Printf("Reply classification failed for lead %d: %v", lead.ID, err)
			intent = IntentOther
		}
	}

	switch intent {
	case IntentInterested:
		first := st.EngagedAt == nil
		now := e.now()
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			if s.EngagedAt == nil {
				s.EngagedAt = &now
				s.EngagedChannel = channel
			}
		}); err != nil {
			return err
		}
		if first {
			e.emit(st, models.OutboxEngaged, channel)
		}
		return nil

	case IntentNotInterested:
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			if !s.Terminal() {
				s.Status = models.OrchestrationCompleted
				s.TerminalReason = "replied not interested"
			}
		}); err != nil {
			return err
		}
		e.emit(st, models.OutboxCompleted, channel)
		e.pauseOnPlatforms(ctx, st)
		return nil

	case IntentDoNotContact:
		lead.IsDoNotContact = true
		if err := e.store.SaveLead(lead); err != nil {
			e.logger.Printf("Failed to flag lead %d do-not-contact: %v", lead.ID, err)
		}
		return e.cancelInternal(ctx, st, lead, "lead asked not to be contacted")

	case IntentOutOfOffice:
		// restart both wait windows so cadence resumes after the absence
		now := e.now()
		return e.mutateState(st, func(s *models.OrchestrationState) {
			if s.EmailLastAdvancedAt != nil {
				s.EmailLastAdvancedAt = &now
			}
			if s.LinkedInLastAdvancedAt != nil {
				s.LinkedInLastAdvancedAt = &now
			}
		})
	}

	// nurture and other replies accumulate in the audit log only
	return nil
}

// --- advancement ---

func (e *Engine) advanceForLead(ctx context.Context, st *models.OrchestrationState, lead *models.Lead, channel, trigger string) error {
	seq, err := e.store.SequenceByID(st.SequenceID)
	if err != nil {
		return err
	}
	tenant, err := e.store.TenantByID(st.TenantID)
	if err != nil {
		return err
	}
	return e.advanceChannel(ctx, st, lead, seq, tenant, channel, trigger)
}

// advanceChannel deploys the next step on one channel. The cursor commits
// only after the platform confirmed the deploy; the deployment marker makes
// the (lead, channel, position) deploy idempotent even when the lock
// degrades.
func (e *Engine) advanceChannel(ctx context.Context, st *models.OrchestrationState, lead *models.Lead, seq *models.Sequence, tenant *models.Tenant, channel, trigger string) error {
	if st.Terminal() || st.Status == models.OrchestrationPaused {
		return nil
	}
	if st.Halted(channel) {
		return nil
	}

	cur, total := st.Cursor(channel), st.Total(channel)
	if total == 0 || cur >= total {
		return nil
	}

	if trigger != TriggerForce && e.deferredByEngagement(st, channel) {
		e.logger.Printf("Deferring %s step %d for lead %d: engaged on %s", channel, cur+1, st.LeadID, st.EngagedChannel)
		return nil
	}

	next := cur + 1
	marked, err := e.store.MarkDeployment(st.ID, st.LeadID, channel, next)
	if err != nil {
		return err
	}
	if !marked {
		// Concurrent trigger or earlier crash already attempted this step;
		// the reconciler resolves markers that never confirmed.
		return nil
	}

	if err := e.deployStep(ctx, st, lead, seq, tenant, channel, next); err != nil {
		if relErr := e.store.ReleaseDeployment(st.ID, channel, next); relErr != nil {
			e.logger.Printf("Failed to release deployment marker for lead %d %s/%d: %v", st.LeadID, channel, next, relErr)
		}

		if platform.IsPermanent(err) {
			haltErr := e.mutateState(st, func(s *models.OrchestrationState) {
				s.Halt(channel, err.Error())
			})
			if haltErr != nil {
				return haltErr
			}
			if finErr := e.finalizeIfDone(st); finErr != nil {
				return finErr
			}
			return err
		}

		// transient, bounded retries exhausted: human review, not failure
		reviewErr := e.mutateState(st, func(s *models.OrchestrationState) {
			s.NeedsReview = true
			s.ReviewReason = fmt.Sprintf("%s step %d deploy failed: %v", channel, next, err)
		})
		if reviewErr != nil {
			return reviewErr
		}
		e.emit(st, models.OutboxReviewNeeded, channel)
		return err
	}

	// side effect confirmed; abort the commit if cancelled concurrently
	if fresh, err := e.store.StateByID(st.ID); err == nil && fresh.Status == models.OrchestrationCancelled {
		_ = e.store.ConfirmDeployment(st.ID, channel, next)
		*st = *fresh
		return nil
	}

	now := e.now()
	platformID := st.PlatformLeadID(channel)
	commit := func(s *models.OrchestrationState) {
		s.SetPlatformLeadID(channel, platformID)
		s.SetCursor(channel, next, now)
		if s.Status == models.OrchestrationPending {
			s.Status = models.OrchestrationActive
		}
	}

	commit(st)
	if err := e.store.SaveState(st); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		fresh, ferr := e.store.StateByID(st.ID)
		if ferr != nil {
			return ferr
		}
		if fresh.Terminal() || fresh.Cursor(channel) >= next {
			// superseded by a more recent write; the deploy already happened,
			// keep the marker so the step can never fire again
			_ = e.store.ConfirmDeployment(st.ID, channel, next)
			*st = *fresh
			return nil
		}
		commit(fresh)
		if err := e.store.SaveState(fresh); err != nil {
			return err
		}
		*st = *fresh
	}

	if err := e.store.ConfirmDeployment(st.ID, channel, next); err != nil {
		e.logger.Printf("Failed to confirm deployment for lead %d %s/%d: %v", st.LeadID, channel, next, err)
	}
	e.emit(st, models.OutboxStepDeployed, channel)
	return nil
}

func (e *Engine) deployStep(ctx context.Context, st *models.OrchestrationState, lead *models.Lead, seq *models.Sequence, tenant *models.Tenant, channel string, position int) error {
	adapter := e.adapterFor(tenant, channel)
	campaignID := campaignIDFor(tenant, channel)
	if campaignID == "" {
		return &platform.Error{Platform: channel, Op: "deploy", Status: 400, Message: "tenant has no campaign configured for this channel"}
	}

	if st.PlatformLeadID(channel) == "" {
		var platformID string
		err := platform.Do(ctx, e.policy.MaxDeployAttempts, func() error {
			id, err := adapter.AddLeadToCampaign(ctx, campaignID, profileFor(lead))
			if err != nil {
				return err
			}
			platformID = id
			return nil
		})
		if err != nil {
			return err
		}
		st.SetPlatformLeadID(channel, platformID)
	}

	content, err := stepContent(seq, channel, position)
	if err != nil {
		return err
	}

	return platform.Do(ctx, e.policy.MaxDeployAttempts, func() error {
		return adapter.SendNextStep(ctx, campaignID, st.PlatformLeadID(channel), content)
	})
}

// --- sweep ---

func (e *Engine) sweepLead(ctx context.Context, stale *models.OrchestrationState) {
	release, ok := e.locks.Acquire(ctx, stale.LeadID)
	if !ok {
		return // mid-advancement elsewhere, next sweep picks it up
	}
	defer release()

	st, err := e.store.StateByID(stale.ID)
	if err != nil {
		e.logger.Printf("Sweep reload failed for lead %d: %v", stale.LeadID, err)
		return
	}
	if st.Status != models.OrchestrationActive || st.NeedsReview {
		return
	}

	lead, err := e.store.LeadByID(st.LeadID)
	if err != nil {
		e.logger.Printf("Sweep lead load failed for %d: %v", st.LeadID, err)
		return
	}
	seq, err := e.store.SequenceByID(st.SequenceID)
	if err != nil {
		e.logger.Printf("Sweep sequence load failed for lead %d: %v", st.LeadID, err)
		return
	}
	tenant, err := e.store.TenantByID(st.TenantID)
	if err != nil {
		e.logger.Printf("Sweep tenant load failed for lead %d: %v", st.LeadID, err)
		return
	}

	now := e.now()
	for _, ch := range enabledChannels(seq) {
		if st.Halted(ch) || st.Cursor(ch) >= st.Total(ch) {
			continue
		}
		ref := st.CreatedAt
		if last := st.LastAdvancedAt(ch); last != nil {
			ref = *last
		}
		if now.Sub(ref) >= e.waitFor(seq, ch, st.Cursor(ch)) {
			if err := e.advanceChannel(ctx, st, lead, seq, tenant, ch, TriggerTimeout); err != nil {
				e.logger.Printf("Sweep advance failed for lead %d on %s: %v", st.LeadID, ch, err)
			}
		}
	}

	e.maybeComplete(st, seq)
}

// maybeComplete finishes the orchestration once every enabled channel is
// either exhausted past its final wait window or halted. All channels halted
// means nothing can proceed: that is a failure, not a completion.
func (e *Engine) maybeComplete(st *models.OrchestrationState, seq *models.Sequence) {
	if st.Status != models.OrchestrationActive {
		return
	}

	now := e.now()
	anyExhausted := false
	for _, ch := range enabledChannels(seq) {
		if st.Halted(ch) {
			continue
		}
		if st.Cursor(ch) < st.Total(ch) {
			return
		}
		if last := st.LastAdvancedAt(ch); last != nil && now.Sub(*last) < e.waitFor(seq, ch, st.Cursor(ch)) {
			return // final step still inside its wait window
		}
		anyExhausted = true
	}

	if !anyExhausted {
		if err := e.mutateState(st, func(s *models.OrchestrationState) {
			if s.Status == models.OrchestrationActive {
				s.Status = models.OrchestrationFailed
				s.TerminalReason = "no channel could proceed"
			}
		}); err != nil {
			e.logger.Printf("Failed to fail orchestration for lead %d: %v", st.LeadID, err)
			return
		}
		e.emit(st, models.OutboxFailed, "")
		return
	}

	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		if s.Status == models.OrchestrationActive {
			s.Status = models.OrchestrationCompleted
			s.TerminalReason = "sequence exhausted"
		}
	}); err != nil {
		e.logger.Printf("Failed to complete orchestration for lead %d: %v", st.LeadID, err)
		return
	}
	e.emit(st, models.OutboxCompleted, "")
}

// finalizeIfDone re-evaluates completion after a channel halt.
func (e *Engine) finalizeIfDone(st *models.OrchestrationState) error {
	seq, err := e.store.SequenceByID(st.SequenceID)
	if err != nil {
		return err
	}
	e.maybeComplete(st, seq)
	return nil
}

// --- cancellation ---

func (e *Engine) cancelInternal(ctx context.Context, st *models.OrchestrationState, lead *models.Lead, reason string) error {
	tenant, err := e.store.TenantByID(st.TenantID)
	if err != nil {
		return err
	}

	if st.SmartleadLeadID != "" {
		err := platform.Do(ctx, e.policy.MaxDeployAttempts, func() error {
			return e.adapters.Email(tenant).RemoveLead(ctx, tenant.SmartleadCampaignID, st.SmartleadLeadID)
		})
		if err != nil {
			e.flagReview(st, models.ChannelEmail, fmt.Sprintf("cancel: smartlead removal failed: %v", err))
			return fmt.Errorf("%w: %v", ErrCancelIncomplete, err)
		}
	}
	if st.HeyReachLeadID != "" {
		err := platform.Do(ctx, e.policy.MaxDeployAttempts, func() error {
			return e.adapters.LinkedIn(tenant).RemoveLead(ctx, tenant.HeyReachCampaignID, st.HeyReachLeadID)
		})
		if err != nil {
			e.flagReview(st, models.ChannelLinkedIn, fmt.Sprintf("cancel: heyreach removal failed: %v", err))
			return fmt.Errorf("%w: %v", ErrCancelIncomplete, err)
		}
	}

	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		if !s.Terminal() {
			s.Status = models.OrchestrationCancelled
			s.TerminalReason = reason
		}
	}); err != nil {
		return err
	}
	e.emit(st, models.OutboxCancelled, "")
	return nil
}

// pauseOnPlatforms best-effort pauses the lead everywhere after a terminal
// positive outcome so the platforms stop their own follow-ups.
func (e *Engine) pauseOnPlatforms(ctx context.Context, st *models.OrchestrationState) {
	tenant, err := e.store.TenantByID(st.TenantID)
	if err != nil {
		e.logger.Printf("Tenant load failed for lead %d: %v", st.LeadID, err)
		return
	}
	if st.SmartleadLeadID != "" {
		if err := e.adapters.Email(tenant).PauseLead(ctx, tenant.SmartleadCampaignID, st.SmartleadLeadID); err != nil {
			e.logger.Printf("Smartlead pause failed for lead %d: %v", st.LeadID, err)
		}
	}
	if st.HeyReachLeadID != "" {
		if err := e.adapters.LinkedIn(tenant).PauseLead(ctx, tenant.HeyReachCampaignID, st.HeyReachLeadID); err != nil {
			e.logger.Printf("HeyReach pause failed for lead %d: %v", st.LeadID, err)
		}
	}
}

// --- helpers ---

// FlagDivergence marks a lead for review when recorded state disagrees with
// what a platform reports. Used by the reconciliation pass.
func (e *Engine) FlagDivergence(st *models.OrchestrationState, channel, reason string) error {
	e.flagReview(st, channel, reason)
	return nil
}

// flagReview marks a lead for human attention and emits the review event.
func (e *Engine) flagReview(st *models.OrchestrationState, channel, reason string) {
	if err := e.mutateState(st, func(s *models.OrchestrationState) {
		s.NeedsReview = true
		s.ReviewReason = reason
	}); err != nil {
		e.logger.Printf("Failed to flag lead %d for review: %v", st.LeadID, err)
		return
	}
	e.emit(st, models.OutboxReviewNeeded, channel)
}

// mutateState applies fn and saves; on a version conflict it reapplies fn to
// fresh state and tries once more. A second conflict propagates.
func (e *Engine) mutateState(st *models.OrchestrationState, fn func(*models.OrchestrationState)) error {
	fn(st)
	err := e.store.SaveState(st)
	if err == nil || !errors.Is(err, ErrVersionConflict) {
		return err
	}

	fresh, ferr := e.store.StateByID(st.ID)
	if ferr != nil {
		return ferr
	}
	fn(fresh)
	if err := e.store.SaveState(fresh); err != nil {
		return err
	}
	*st = *fresh
	return nil
}

func (e *Engine) resolveLead(ev CanonicalEvent) *models.Lead {
	// The campaign id pins the owning tenant, so two tenants prospecting the
	// same person never resolve to each other's lead.
	var tenantID uint
	if ev.CampaignID != "" {
		tenant, err := e.store.TenantByCampaign(ev.Platform, ev.CampaignID)
		if err != nil {
			return nil
		}
		tenantID = tenant.ID
	}
	if ev.Email != "" {
		email := strings.ToLower(strings.TrimSpace(ev.Email))
		if err := checkmail.ValidateFormat(email); err == nil {
			if lead, err := e.store.LeadByEmail(tenantID, email); err == nil {
				return lead
			}
		}
	}
	if ev.ProfileURL != "" {
		lead, err := e.store.LeadByProfileURL(tenantID, NormalizeProfileURL(ev.ProfileURL))
		if err != nil {
			return nil
		}
		return lead
	}
	return nil
}

func (e *Engine) deferredByEngagement(st *models.OrchestrationState, channel string) bool {
	if st.EngagedAt == nil || st.EngagedChannel == channel {
		return false
	}
	return e.now().Sub(*st.EngagedAt) < e.policy.EngagementGrace
}

func (e *Engine) waitFor(seq *models.Sequence, channel string, cursor int) time.Duration {
	if channel == models.ChannelEmail {
		// plan day offsets override the default cadence when present
		if cur := seq.EmailStepAt(cursor); cur != nil {
			if next := seq.EmailStepAt(cursor + 1); next != nil {
				if d := next.DayOffset - cur.DayOffset; d > 0 {
					return time.Duration(d) * 24 * time.Hour
				}
			}
		}
		return e.policy.EmailStepWait
	}
	return e.policy.LinkedInStepWait
}

func (e *Engine) adapterFor(tenant *models.Tenant, channel string) platform.Adapter {
	if channel == models.ChannelEmail {
		return e.adapters.Email(tenant)
	}
	return e.adapters.LinkedIn(tenant)
}

func (e *Engine) emit(st *models.OrchestrationState, eventType, channel string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"lead_id":         st.LeadID,
		"tenant_id":       st.TenantID,
		"sequence_id":     st.SequenceID,
		"status":          st.Status,
		"channel":         channel,
		"email_step":      st.EmailStepCurrent,
		"linkedin_step":   st.LinkedInStepCurrent,
		"terminal_reason": st.TerminalReason,
		"review_reason":   st.ReviewReason,
		"at":              e.now().UTC().Format(time.RFC3339),
	})

	ev := &models.OutboxEvent{
		EventID:  uuid.New().String(),
		TenantID: st.TenantID,
		LeadID:   st.LeadID,
		Type:     eventType,
		Channel:  channel,
		Payload:  string(payload),
		Status:   models.OutboxPending,
	}
	if err := e.store.EnqueueOutbox(ev); err != nil {
		e.logger.Printf("Failed to enqueue %s event for lead %d: %v", eventType, st.LeadID, err)
	}
}

func campaignIDFor(tenant *models.Tenant, channel string) string {
	if channel == models.ChannelEmail {
		return tenant.SmartleadCampaignID
	}
	return tenant.HeyReachCampaignID
}

func profileFor(lead *models.Lead) platform.LeadProfile {
	return platform.LeadProfile{
		Email:       lead.Email,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Company:     lead.Company,
		Position:    lead.Position,
		LinkedInURL: lead.LinkedInURL,
	}
}

func stepContent(seq *models.Sequence, channel string, position int) (platform.StepContent, error) {
	if channel == models.ChannelEmail {
		step := seq.EmailStepAt(position)
		if step == nil {
			return platform.StepContent{}, fmt.Errorf("sequence %d has no email step at position %d", seq.ID, position)
		}
		return platform.StepContent{Position: position, Kind: "email", Subject: step.Subject, Body: step.Body}, nil
	}
	step := seq.LinkedInStepAt(position)
	if step == nil {
		return platform.StepContent{}, fmt.Errorf("sequence %d has no linkedin step at position %d", seq.ID, position)
	}
	return platform.StepContent{Position: position, Kind: step.Type, Body: step.Body}, nil
}

func enabledChannels(seq *models.Sequence) []string {
	var channels []string
	if seq.EmailEnabled() {
		channels = append(channels, models.ChannelEmail)
	}
	if seq.LinkedInEnabled() {
		channels = append(channels, models.ChannelLinkedIn)
	}
	return channels
}

func allHalted(st *models.OrchestrationState, seq *models.Sequence) bool {
	for _, ch := range enabledChannels(seq) {
		if !st.Halted(ch) {
			return false
		}
	}
	return true
}
