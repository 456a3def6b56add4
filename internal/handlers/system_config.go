package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GetEmailConfig returns the SMTP settings without the password
// GET /api/system-config/email
func (h *SystemConfigHandler) GetEmailConfig(c *gin.Context) {
	response.Success(c, h.configService.GetEmailConfig())
}

// UpdateEmailConfig updates the SMTP settings
// PUT /api/system-config/email
func (h *SystemConfigHandler) UpdateEmailConfig(c *gin.Context) {
	var req services.UpdateEmailConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.UpdateEmailConfig(&req); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, h.configService.GetEmailConfig())
}

// GetHolidayCountries lists the calendars usable for the alert sweep
// GET /api/system-config/holiday-countries
func (h *SystemConfigHandler) GetHolidayCountries(c *gin.Context) {
	response.Success(c, services.SupportedHolidayCountries())
}
