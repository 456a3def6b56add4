package services

import (
	"context"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
)

// Inbox filters.
const (
	FilterRecent   = "recent"
	FilterArchived = "archived"
	FilterAll      = "all"
)

// archiveAfter is the age after which a notification moves to the archive.
const archiveAfter = 24 * time.Hour

// NotificationService is the in-app inbox of a user.
type NotificationService struct {
	db  *gorm.DB
	now Clock
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db, now: time.Now}
}

func (s *NotificationService) SetClock(c Clock) {
	s.now = c
}

func (s *NotificationService) own(ctx context.Context, actor Actor) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", actor.UserID)
}

// List returns the actor's notifications, newest first. recent covers the
// last 24 hours, archived everything older.
func (s *NotificationService) List(ctx context.Context, actor Actor, filter string, limit int) ([]NotificationPayload, error) {
	cutoff := s.now().Add(-archiveAfter).UTC()
	q := s.own(ctx, actor).Preload("RelatedAgenda").Preload("RelatedProject")

	switch filter {
	case "", FilterRecent:
		q = q.Where("created_at >= ?", cutoff)
	case FilterArchived:
		q = q.Where("created_at < ?", cutoff)
	case FilterAll:
	default:
		return nil, response.NewFieldError("filter", "must be one of recent, archived, all")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows []models.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPayloads(rows), nil
}

func (s *NotificationService) Unread(ctx context.Context, actor Actor) ([]NotificationPayload, error) {
	var rows []models.Notification
	err := s.own(ctx, actor).
		Preload("RelatedAgenda").
		Preload("RelatedProject").
		Where("is_read = ?", false).
		Order("created_at DESC, id DESC").
		Limit(50).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toPayloads(rows), nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, actor Actor) (int64, error) {
	var count int64
	err := s.own(ctx, actor).Where("is_read = ?", false).Count(&count).Error
	return count, err
}

// MarkRead marks one of the actor's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id uint) error {
	res := s.own(ctx, actor).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return response.NewNotFound("notification not found")
	}
	return nil
}

// MarkAllRead returns how many notifications changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	res := s.own(ctx, actor).Where("is_read = ?", false).Update("is_read", true)
	return res.RowsAffected, res.Error
}

// ClearArchived deletes the actor's notifications older than 24 hours.
func (s *NotificationService) ClearArchived(ctx context.Context, actor Actor) (int64, error) {
	cutoff := s.now().Add(-archiveAfter).UTC()
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", actor.UserID, cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

func (s *NotificationService) Delete(ctx context.Context, actor Actor, id uint) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", actor.UserID, id).
		Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return response.NewNotFound("notification not found")
	}
	return nil
}

func toPayloads(rows []models.Notification) []NotificationPayload {
	out := make([]NotificationPayload, 0, len(rows))
	for i := range rows {
		out = append(out, *NewNotificationPayload(&rows[i]))
	}
	return out
}
