package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database, queue and realtime hub.
type HealthHandler struct {
	db    *gorm.DB
	queue services.DeliveryQueue
	hub   *services.NotificationHub
}

func NewHealthHandler(db *gorm.DB, queue services.DeliveryQueue, hub *services.NotificationHub) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, hub: hub}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	sseClients := 0
	if h.hub != nil {
		sseClients = h.hub.ClientCount()
	}

	var openAgendas int64
	h.db.WithContext(c.Request.Context()).Model(&models.Agenda{}).
		Where("status <> ?", models.AgendaStatusCompleted).
		Count(&openAgendas)

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "agendatrack",
		"components": gin.H{
			"database":     dbStatus,
			"queue_mode":   queueMode,
			"sse_clients":  sseClients,
			"open_agendas": openAgendas,
		},
	})
}
