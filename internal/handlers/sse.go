package handlers

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/logger"
)

const sseHeartbeat = 30 * time.Second

// SSEHandler streams a user's notifications as Server-Sent Events.
type SSEHandler struct {
	hub *services.NotificationHub
}

func NewSSEHandler(hub *services.NotificationHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// StreamNotifications handles SSE connections for the caller's notification topic
// GET /api/events/notifications?token=
func (h *SSEHandler) StreamNotifications(c *gin.Context) {
	userID := middleware.GetUserID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	events := h.hub.Subscribe(services.UserTopic(userID), clientID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Uint("user_id", userID).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-events:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			c.Writer.Flush()
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}
