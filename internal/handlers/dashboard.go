package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type DashboardHandler struct {
	dashboardService *services.DashboardService
}

func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetStats returns the caller's dashboard
// GET /api/dashboard
func (h *DashboardHandler) GetStats(c *gin.Context) {
	resp, err := h.dashboardService.Dashboard(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}

// Search matches projects and agendas by name, title or description
// GET /api/search?q=
func (h *DashboardHandler) Search(c *gin.Context) {
	resp, err := h.dashboardService.Search(c.Request.Context(), middleware.GetActor(c), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}

// Calendar returns agenda events between start and end
// GET /api/calendar?start=&end=
func (h *DashboardHandler) Calendar(c *gin.Context) {
	events, err := h.dashboardService.Calendar(c.Request.Context(), middleware.GetActor(c), c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, events)
}

// Analytics returns per-project progress
// GET /api/analytics
func (h *DashboardHandler) Analytics(c *gin.Context) {
	resp, err := h.dashboardService.Analytics(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}
