package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/pkg/response"
)

type PushHandler struct {
	subscriptions *services.PushSubscriptionService
	sender        *services.WebPushSender
}

func NewPushHandler(subscriptions *services.PushSubscriptionService, sender *services.WebPushSender) *PushHandler {
	return &PushHandler{subscriptions: subscriptions, sender: sender}
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Subscribe stores the browser's push subscription
// POST /api/push/subscribe
func (h *PushHandler) Subscribe(c *gin.Context) {
	var req services.SubscribeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sub, err := h.subscriptions.Subscribe(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{"id": sub.ID, "endpoint": sub.Endpoint})
}

// Unsubscribe removes a push subscription
// POST /api/push/unsubscribe
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.subscriptions.Unsubscribe(c.Request.Context(), middleware.GetActor(c), req.Endpoint); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// VAPIDPublicKey returns the application server key for the browser
// GET /api/push/vapid-public-key
func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	if h.sender == nil || !h.sender.Enabled() {
		response.NotFound(c, "browser push is not configured")
		return
	}

	response.Success(c, gin.H{"public_key": h.sender.PublicKey()})
}
