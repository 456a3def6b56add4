package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type CollaboratorHandler struct {
	collaboratorService *services.CollaboratorService
}

func NewCollaboratorHandler(collaboratorService *services.CollaboratorService) *CollaboratorHandler {
	return &CollaboratorHandler{collaboratorService: collaboratorService}
}

// List returns all collaborator profiles
// GET /api/collaborators
func (h *CollaboratorHandler) List(c *gin.Context) {
	var req services.CollaboratorListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	collaborators, err := h.collaboratorService.List(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, collaborators)
}

// GetByID returns a profile with its assignment counts
// GET /api/collaborators/:id
func (h *CollaboratorHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collaborator id")
	if !ok {
		return
	}

	detail, err := h.collaboratorService.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, detail)
}

// Create creates a profile
// POST /api/collaborators
func (h *CollaboratorHandler) Create(c *gin.Context) {
	var req services.CollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	collab, err := h.collaboratorService.Create(c.Request.Context(), middleware.GetActor(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, collab)
}

// Update updates a profile
// PUT /api/collaborators/:id
func (h *CollaboratorHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collaborator id")
	if !ok {
		return
	}

	var req services.CollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	collab, err := h.collaboratorService.Update(c.Request.Context(), middleware.GetActor(c), id, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, collab)
}

// Delete deletes a profile
// DELETE /api/collaborators/:id
func (h *CollaboratorHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collaborator id")
	if !ok {
		return
	}

	if err := h.collaboratorService.Delete(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
