package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type AgendaHandler struct {
	agendaService     *services.AgendaService
	assignmentService *services.AssignmentService
	extensionService  *services.ExtensionService
	dashboardService  *services.DashboardService
}

func NewAgendaHandler(
	agendaService *services.AgendaService,
	assignmentService *services.AssignmentService,
	extensionService *services.ExtensionService,
	dashboardService *services.DashboardService,
) *AgendaHandler {
	return &AgendaHandler{
		agendaService:     agendaService,
		assignmentService: assignmentService,
		extensionService:  extensionService,
		dashboardService:  dashboardService,
	}
}

type agendaListQuery struct {
	Status    string `form:"status"`
	ProjectID uint   `form:"project_id"`
	Type      string `form:"type"`
	Priority  string `form:"priority"`
	Category  string `form:"category"`
	DateFrom  string `form:"date_from"`
	DateTo    string `form:"date_to"`
}

type rejectRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

// List returns the agendas visible to the caller
// GET /api/agendas
func (h *AgendaHandler) List(c *gin.Context) {
	var q agendaListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	actor := middleware.GetActor(c)
	agendas, err := h.agendaService.List(c.Request.Context(), actor, services.AgendaFilter{
		Status:    q.Status,
		ProjectID: q.ProjectID,
		Type:      q.Type,
		Priority:  q.Priority,
		Category:  q.Category,
		DateFrom:  q.DateFrom,
		DateTo:    q.DateTo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.agendaService.Projector().ProjectAgendas(actor, agendas))
}

// Overview returns the caller's undone work and today's completions
// GET /api/agendas/overview
func (h *AgendaHandler) Overview(c *gin.Context) {
	resp, err := h.dashboardService.Overview(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}

// GetByID returns one agenda
// GET /api/agendas/:id
func (h *AgendaHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	actor := middleware.GetActor(c)
	agenda, err := h.agendaService.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.agendaService.Projector().ProjectAgenda(actor, agenda))
}

// Create creates an agenda and invites its collaborators
// POST /api/agendas
func (h *AgendaHandler) Create(c *gin.Context) {
	var req services.CreateAgendaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	actor := middleware.GetActor(c)
	agenda, err := h.agendaService.Create(c.Request.Context(), actor, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, h.agendaService.Projector().ProjectAgenda(actor, agenda))
}

// Update applies a partial update
// PUT /api/agendas/:id
func (h *AgendaHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	var req services.UpdateAgendaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	actor := middleware.GetActor(c)
	agenda, err := h.agendaService.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.agendaService.Projector().ProjectAgenda(actor, agenda))
}

// Delete deletes an agenda
// DELETE /api/agendas/:id
func (h *AgendaHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	if err := h.agendaService.Delete(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Toggle advances the agenda status
// POST /api/agendas/:id/toggle
func (h *AgendaHandler) Toggle(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	actor := middleware.GetActor(c)
	agenda, err := h.agendaService.Toggle(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.agendaService.Projector().ProjectAgenda(actor, agenda))
}

// Accept accepts the caller's invitation
// POST /api/agendas/:id/accept
func (h *AgendaHandler) Accept(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	assignment, err := h.assignmentService.Accept(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, assignment)
}

// Reject declines the caller's invitation with a reason
// POST /api/agendas/:id/reject
func (h *AgendaHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	assignment, err := h.assignmentService.Reject(c.Request.Context(), middleware.GetActor(c), id, req.RejectionReason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, assignment)
}

// ExtendTime extends the deadline, or requests or decides an extension
// POST /api/agendas/:id/extend-time
func (h *AgendaHandler) ExtendTime(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid agenda id")
	if !ok {
		return
	}

	var req services.ExtensionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	actor := middleware.GetActor(c)
	agenda, err := h.extensionService.Extend(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.agendaService.Projector().ProjectAgenda(actor, agenda))
}
