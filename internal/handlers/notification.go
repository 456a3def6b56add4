package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	alertService        *services.AlertService
}

func NewNotificationHandler(notificationService *services.NotificationService, alertService *services.AlertService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		alertService:        alertService,
	}
}

type notificationListQuery struct {
	Filter string `form:"filter"`
	Limit  int    `form:"limit"`
}

// List returns the caller's notifications
// GET /api/notifications?filter=recent|archived|all
func (h *NotificationHandler) List(c *gin.Context) {
	var q notificationListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	items, err := h.notificationService.List(c.Request.Context(), middleware.GetActor(c), q.Filter, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, items)
}

// Unread returns unread notifications
// GET /api/notifications/unread
func (h *NotificationHandler) Unread(c *gin.Context) {
	items, err := h.notificationService.Unread(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, items)
}

// UnreadCount returns the unread badge count
// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notificationService.UnreadCount(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"count": count})
}

// MarkRead marks one notification read
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid notification id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// MarkAllRead marks every notification read
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notificationService.MarkAllRead(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"updated": n})
}

// ClearArchived deletes archived notifications
// POST /api/notifications/clear-archived
func (h *NotificationHandler) ClearArchived(c *gin.Context) {
	n, err := h.notificationService.ClearArchived(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"deleted": n})
}

// Delete deletes one notification
// DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid notification id")
	if !ok {
		return
	}

	if err := h.notificationService.Delete(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// CheckAlerts evaluates the caller's agendas and pushes every new alert
// GET /api/alerts/check
func (h *NotificationHandler) CheckAlerts(c *gin.Context) {
	result, err := h.alertService.CheckAndCreateAlerts(c.Request.Context(), middleware.GetActor(c), services.AlertOptions{PushAll: true})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
