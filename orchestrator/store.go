package orchestrator

import (
	"errors"
	"time"

	"reachflow/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrVersionConflict means another writer modified the state between our
	// read and write. The caller retries once with fresh state or concedes.
	ErrVersionConflict = errors.New("orchestration state was modified concurrently")

	ErrStateNotFound = errors.New("orchestration state not found")
	ErrLeadNotFound  = errors.New("lead not found")
)

// Store is the persistence boundary of the engine. The GORM implementation
// backs production; tests use an in-memory fake.
type Store interface {
	CreateState(st *models.OrchestrationState) error
	StateByLead(leadID uint) (*models.OrchestrationState, error)
	StateByID(id uint) (*models.OrchestrationState, error)
	// SaveState persists st only if its version is unchanged in the database,
	// then increments it. Returns ErrVersionConflict otherwise.
	SaveState(st *models.OrchestrationState) error
	// SweepCandidates returns active, unflagged states for the timeout sweep.
	SweepCandidates(limit int) ([]models.OrchestrationState, error)

	LeadByID(id uint) (*models.Lead, error)
	// Lead identity lookups scope to the owning tenant when tenantID is
	// non-zero; zero means the event carried no campaign to resolve one.
	LeadByEmail(tenantID uint, email string) (*models.Lead, error)
	LeadByProfileURL(tenantID uint, url string) (*models.Lead, error)
	SaveLead(lead *models.Lead) error

	SequenceByID(id uint) (*models.Sequence, error)
	TenantByID(id uint) (*models.Tenant, error)
	TenantByCampaign(platformName, campaignID string) (*models.Tenant, error)

	// MarkDeployment inserts the idempotency marker for (state, channel,
	// position). Returns false when the marker already exists.
	MarkDeployment(stateID, leadID uint, channel string, position int) (bool, error)
	ConfirmDeployment(stateID uint, channel string, position int) error
	// ReleaseDeployment removes a marker whose deploy call never produced a
	// side effect, so a later retry may attempt the position again.
	ReleaseDeployment(stateID uint, channel string, position int) error
	StaleDeployments(olderThan time.Time) ([]models.StepDeployment, error)

	LogEvent(ev *models.WebhookEvent) error

	EnqueueOutbox(ev *models.OutboxEvent) error
	PendingOutbox(limit int) ([]models.OutboxEvent, error)
	SaveOutbox(ev *models.OutboxEvent) error
}

// GormStore is the production Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateState(st *models.OrchestrationState) error {
	return s.db.Create(st).Error
}

func (s *GormStore) StateByLead(leadID uint) (*models.OrchestrationState, error) {
	var st models.OrchestrationState
	if err := s.db.Where("lead_id = ?", leadID).First(&st).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *GormStore) StateByID(id uint) (*models.OrchestrationState, error) {
	var st models.OrchestrationState
	if err := s.db.First(&st, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *GormStore) SaveState(st *models.OrchestrationState) error {
	current := st.Version
	st.Version = current + 1

	res := s.db.Model(&models.OrchestrationState{}).
		Where("id = ? AND version = ?", st.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(st)
	if res.Error != nil {
		st.Version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		st.Version = current
		return ErrVersionConflict
	}
	return nil
}

func (s *GormStore) SweepCandidates(limit int) ([]models.OrchestrationState, error) {
	var states []models.OrchestrationState
	err := s.db.
		Where("status = ? AND needs_review = ?", models.OrchestrationActive, false).
		Order("updated_at asc").
		Limit(limit).
		Find(&states).Error
	return states, err
}

func (s *GormStore) LeadByID(id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) LeadByEmail(tenantID uint, email string) (*models.Lead, error) {
	var lead models.Lead
	query := s.db.Where("LOWER(email) = ?", email)
	if tenantID != 0 {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) LeadByProfileURL(tenantID uint, url string) (*models.Lead, error) {
	var lead models.Lead
	// linkedin_url is stored normalized at import time
	query := s.db.Where("linkedin_url = ?", url)
	if tenantID != 0 {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) SaveLead(lead *models.Lead) error {
	return s.db.Save(lead).Error
}

func (s *GormStore) SequenceByID(id uint) (*models.Sequence, error) {
	var seq models.Sequence
	if err := s.db.Preload("EmailSteps").Preload("LinkedInSteps").First(&seq, id).Error; err != nil {
		return nil, err
	}
	return &seq, nil
}

func (s *GormStore) TenantByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *GormStore) TenantByCampaign(platformName, campaignID string) (*models.Tenant, error) {
	column := "smartlead_campaign_id"
	if platformName == PlatformHeyReach {
		column = "heyreach_campaign_id"
	}
	var tenant models.Tenant
	if err := s.db.Where(column+" = ?", campaignID).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *GormStore) MarkDeployment(stateID, leadID uint, channel string, position int) (bool, error) {
	dep := models.StepDeployment{
		StateID:  stateID,
		LeadID:   leadID,
		Channel:  channel,
		Position: position,
		Status:   models.DeploymentAttempted,
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&dep)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ConfirmDeployment(stateID uint, channel string, position int) error {
	now := time.Now()
	return s.db.Model(&models.StepDeployment{}).
		Where("state_id = ? AND channel = ? AND position = ?", stateID, channel, position).
		Updates(map[string]interface{}{
			"status":       models.DeploymentConfirmed,
			"confirmed_at": now,
		}).Error
}

func (s *GormStore) ReleaseDeployment(stateID uint, channel string, position int) error {
	// confirmed markers are permanent, the step already reached the platform
	return s.db.
		Where("state_id = ? AND channel = ? AND position = ? AND status = ?",
			stateID, channel, position, models.DeploymentAttempted).
		Delete(&models.StepDeployment{}).Error
}

func (s *GormStore) StaleDeployments(olderThan time.Time) ([]models.StepDeployment, error) {
	var deps []models.StepDeployment
	err := s.db.
		Where("status = ? AND created_at < ?", models.DeploymentAttempted, olderThan).
		Find(&deps).Error
	return deps, err
}

func (s *GormStore) LogEvent(ev *models.WebhookEvent) error {
	return s.db.Create(ev).Error
}

func (s *GormStore) EnqueueOutbox(ev *models.OutboxEvent) error {
	return s.db.Create(ev).Error
}

func (s *GormStore) PendingOutbox(limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.db.
		Where("status = ?", models.OutboxPending).
		Order("created_at asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *GormStore) SaveOutbox(ev *models.OutboxEvent) error {
	return s.db.Save(ev).Error
}
