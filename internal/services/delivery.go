package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"gorm.io/gorm"
)

// AgendaSummary is the agenda part of a realtime notification.
type AgendaSummary struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// ProjectSummary is the project part of a realtime notification.
type ProjectSummary struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// NotificationPayload is the denormalized form of a notification sent to
// clients.
type NotificationPayload struct {
	ID               uint            `json:"id"`
	Title            string          `json:"title"`
	Message          string          `json:"message"`
	NotificationType string          `json:"notification_type"`
	RelatedAgenda    *AgendaSummary  `json:"related_agenda,omitempty"`
	RelatedProject   *ProjectSummary `json:"related_project,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	IsRead           bool            `json:"is_read"`
}

// RealtimeEvent wraps a payload on the realtime stream.
type RealtimeEvent struct {
	Type         string               `json:"type"`
	Notification *NotificationPayload `json:"notification"`
}

func NewNotificationPayload(n *models.Notification) *NotificationPayload {
	p := &NotificationPayload{
		ID:               n.ID,
		Title:            n.Title,
		Message:          n.Message,
		NotificationType: n.NotificationType,
		CreatedAt:        n.CreatedAt,
		IsRead:           n.IsRead,
	}
	if a := n.RelatedAgenda; a != nil {
		p.RelatedAgenda = &AgendaSummary{ID: a.ID, Title: a.Title, Status: a.Status, Type: a.Type}
	}
	if pr := n.RelatedProject; pr != nil {
		p.RelatedProject = &ProjectSummary{ID: pr.ID, Name: pr.Name, Color: pr.Color}
	}
	return p
}

// DeliveryService fans a committed notification out over realtime, browser
// push and email. Channel failures are logged and never returned.
type DeliveryService struct {
	db          *gorm.DB
	broadcaster Broadcaster
	push        PushSender
	mailer      InvitationMailer
	baseURL     string
}

func NewDeliveryService(db *gorm.DB, broadcaster Broadcaster, push PushSender, mailer InvitationMailer, baseURL string) *DeliveryService {
	return &DeliveryService{
		db:          db,
		broadcaster: broadcaster,
		push:        push,
		mailer:      mailer,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// Deliver runs each requested channel independently. It only fails when the
// notification itself cannot be read, so the queue may retry.
func (s *DeliveryService) Deliver(ctx context.Context, task *DeliveryTask) error {
	var n models.Notification
	err := s.db.WithContext(ctx).
		Preload("RelatedAgenda").
		Preload("RelatedProject").
		First(&n, task.NotificationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn().Uint("notification_id", task.NotificationID).Msg("[Delivery] notification gone, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification %d: %w", task.NotificationID, err)
	}

	log := logger.Component("delivery").With().
		Uint("notification_id", n.ID).
		Uint("user_id", n.UserID).
		Str("type", n.NotificationType).
		Logger()

	if task.Realtime {
		if err := s.deliverRealtime(ctx, &n); err != nil {
			log.Warn().Err(err).Msg("[Delivery] realtime channel failed")
		}
	}
	if task.Push {
		if err := s.deliverPush(ctx, &n); err != nil {
			log.Warn().Err(err).Msg("[Delivery] push channel failed")
		}
	}
	if task.Email != nil {
		if err := s.deliverEmail(ctx, &n, task.Email); err != nil {
			log.Warn().Err(err).Msg("[Delivery] email channel failed")
		}
	}
	return nil
}

// ProcessTask adapts Deliver to the queue processor signature.
func (s *DeliveryService) ProcessTask(ctx context.Context, task *DeliveryTask) error {
	return s.Deliver(ctx, task)
}

func (s *DeliveryService) deliverRealtime(ctx context.Context, n *models.Notification) error {
	if s.broadcaster == nil {
		return nil
	}
	data, err := json.Marshal(RealtimeEvent{Type: "notification", Notification: NewNotificationPayload(n)})
	if err != nil {
		return err
	}
	return s.broadcaster.Publish(ctx, UserTopic(n.UserID), data)
}

func (s *DeliveryService) deliverPush(ctx context.Context, n *models.Notification) error {
	if s.push == nil {
		return nil
	}

	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", n.UserID).Find(&subs).Error; err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	url := "/notifications"
	if n.RelatedAgendaID != nil {
		url = fmt.Sprintf("/agendas/%d/edit", *n.RelatedAgendaID)
	}
	data, err := json.Marshal(PushPayload{
		Title: n.Title,
		Body:  n.Message,
		Icon:  "/logo192.png",
		Badge: "/favicon.ico",
		URL:   url,
	})
	if err != nil {
		return err
	}

	var errs []error
	for i := range subs {
		sub := &subs[i]
		status, err := s.push.Send(ctx, sub, data)
		if err == nil {
			continue
		}
		if IsGone(status) {
			if delErr := s.db.WithContext(ctx).Delete(&models.PushSubscription{}, sub.ID).Error; delErr != nil {
				errs = append(errs, delErr)
			} else {
				logger.Info().Uint("subscription_id", sub.ID).Int("status", status).Msg("[Delivery] removed expired push subscription")
			}
			continue
		}
		errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
	}
	return errors.Join(errs...)
}

func (s *DeliveryService) deliverEmail(ctx context.Context, n *models.Notification, content *EmailContent) error {
	if s.mailer == nil || content.To == "" {
		return nil
	}

	inv := &Invitation{
		To:            content.To,
		RecipientName: content.RecipientName,
		Duty:          content.Duty,
		Leader:        content.Leader,
		AgendaTitle:   n.Title,
	}
	if a := n.RelatedAgenda; a != nil {
		inv.AgendaTitle = a.Title
		inv.AgendaType = a.Type
		inv.Schedule = formatSchedule(a)
		if s.baseURL != "" {
			inv.Link = fmt.Sprintf("%s/agendas/%d", s.baseURL, a.ID)
		}
	}
	if n.RelatedProject != nil {
		inv.ProjectName = n.RelatedProject.Name
	}
	return s.mailer.SendInvitation(ctx, inv)
}

func formatSchedule(a *models.Agenda) string {
	start := formatDeadline(a.Date, a.Time)
	if a.ExpectedFinishDate == "" && a.ExpectedFinishTime == "" {
		return start
	}
	finishDate, finishTime := a.ExpectedFinishDate, a.ExpectedFinishTime
	if finishDate == "" {
		finishDate = a.Date
	}
	return start + " to " + formatDeadline(finishDate, finishTime)
}
