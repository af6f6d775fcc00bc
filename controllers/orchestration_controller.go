package controller

import (
	"errors"
	"log"
	"strconv"

	"reachflow/models"
	"reachflow/orchestrator"
	"reachflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type OrchestrationController struct {
	DB     *gorm.DB
	Engine *orchestrator.Engine
	Logger *log.Logger
}

func NewOrchestrationController(db *gorm.DB, engine *orchestrator.Engine, logger *log.Logger) *OrchestrationController {
	return &OrchestrationController{
		DB:     db,
		Engine: engine,
		Logger: logger,
	}
}

// StartOrchestration deploys an approved sequence for a lead across its
// enabled channels.
func (oc *OrchestrationController) StartOrchestration(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input struct {
		LeadID     uint `json:"lead_id" validate:"required"`
		SequenceID uint `json:"sequence_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if !oc.leadBelongsToTenant(input.LeadID, tenant.ID) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	state, err := oc.Engine.Start(c.Context(), input.LeadID, input.SequenceID)
	if err != nil {
		return oc.commandError(c, err)
	}

	oc.Logger.Printf("Started orchestration %d for lead %d (tenant %d)", state.ID, input.LeadID, tenant.ID)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(state))
}

func (oc *OrchestrationController) GetOrchestration(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	state, err := oc.Engine.Snapshot(leadID)
	if err != nil {
		return oc.commandError(c, err)
	}
	return c.JSON(utils.SuccessResponse(state))
}

// ListOrchestrations returns the tenant's orchestration states, optionally
// filtered by status or the review flag.
func (oc *OrchestrationController) ListOrchestrations(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := oc.DB.Model(&models.OrchestrationState{}).Where("tenant_id = ?", tenant.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if c.Query("needs_review") == "true" {
		query = query.Where("needs_review = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count orchestrations", err)
	}

	var states []models.OrchestrationState
	if err := query.Order("updated_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&states).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch orchestrations", err)
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  states,
		Total: total,
		Page:  page,
		Limit: perPage,
	}))
}

func (oc *OrchestrationController) PauseOrchestration(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	state, cmdErr := oc.Engine.Pause(leadID)
	if cmdErr != nil {
		return oc.commandError(c, cmdErr)
	}
	oc.Logger.Printf("Paused orchestration for lead %d (tenant %d)", leadID, tenant.ID)
	return c.JSON(utils.SuccessResponse(state))
}

func (oc *OrchestrationController) ResumeOrchestration(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	state, cmdErr := oc.Engine.Resume(leadID)
	if cmdErr != nil {
		return oc.commandError(c, cmdErr)
	}
	oc.Logger.Printf("Resumed orchestration for lead %d (tenant %d)", leadID, tenant.ID)
	return c.JSON(utils.SuccessResponse(state))
}

func (oc *OrchestrationController) CancelOrchestration(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&input)
	if input.Reason == "" {
		input.Reason = "cancelled by operator"
	}

	state, cmdErr := oc.Engine.Cancel(c.Context(), leadID, input.Reason)
	if cmdErr != nil {
		return oc.commandError(c, cmdErr)
	}
	oc.Logger.Printf("Cancelled orchestration for lead %d (tenant %d): %s", leadID, tenant.ID, input.Reason)
	return c.JSON(utils.SuccessResponse(state))
}

// ForceAdvance is the operator escape hatch for leads flagged for review.
func (oc *OrchestrationController) ForceAdvance(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	var input struct {
		Channel string `json:"channel" validate:"required,oneof=email linkedin"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	state, cmdErr := oc.Engine.ForceAdvance(c.Context(), leadID, input.Channel)
	if cmdErr != nil {
		return oc.commandError(c, cmdErr)
	}
	oc.Logger.Printf("Force-advanced %s for lead %d (tenant %d)", input.Channel, leadID, tenant.ID)
	return c.JSON(utils.SuccessResponse(state))
}

// GetEventLog returns the audit trail of webhook events for a lead.
func (oc *OrchestrationController) GetEventLog(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	leadID, ok := oc.leadParam(c, tenant.ID)
	if !ok {
		return nil
	}

	var events []models.WebhookEvent
	if err := oc.DB.Where("lead_id = ?", leadID).
		Order("received_at DESC").
		Limit(200).
		Find(&events).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch event log", err)
	}

	return c.JSON(utils.SuccessResponse(events))
}

// leadParam parses :leadID and checks tenant ownership. A false return means
// the error response has already been written.
func (oc *OrchestrationController) leadParam(c *fiber.Ctx, tenantID uint) (uint, bool) {
	leadID := utils.ParseUint(c.Params("leadID"))
	if leadID == 0 {
		_ = utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", nil)
		return 0, false
	}
	if !oc.leadBelongsToTenant(leadID, tenantID) {
		_ = utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		return 0, false
	}
	return leadID, true
}

func (oc *OrchestrationController) leadBelongsToTenant(leadID, tenantID uint) bool {
	var count int64
	oc.DB.Model(&models.Lead{}).
		Where("id = ? AND tenant_id = ?", leadID, tenantID).
		Count(&count)
	return count == 1
}

func (oc *OrchestrationController) commandError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrStateNotFound),
		errors.Is(err, orchestrator.ErrLeadNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Orchestration not found", nil)
	case errors.Is(err, orchestrator.ErrAlreadyOrchestrating),
		errors.Is(err, orchestrator.ErrNotActive),
		errors.Is(err, orchestrator.ErrNotPaused),
		errors.Is(err, orchestrator.ErrTerminal):
		return utils.ErrorResponse(c, fiber.StatusConflict, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrLeadBusy):
		return utils.ErrorResponse(c, fiber.StatusTooManyRequests, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrSequenceNotApproved),
		errors.Is(err, orchestrator.ErrSequenceLeadMismatch),
		errors.Is(err, orchestrator.ErrUnknownChannel):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrCancelIncomplete):
		return utils.ErrorResponse(c, fiber.StatusBadGateway, err.Error(), nil)
	default:
		oc.Logger.Printf("Orchestration command failed: %v", err)
		utils.LogError(err, "orchestration_command_failed", nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", nil)
	}
}
