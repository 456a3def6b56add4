package services

import (
	"context"
	"fmt"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"gorm.io/gorm"
)

const (
	elapsedWarningRatio  = 0.8
	deadlineWarningLead  = 2 * time.Hour
	defaultAlertPushType = models.NotifyDeadlineWarning
)

// AlertOptions controls delivery of the alerts a check creates.
type AlertOptions struct {
	// PushAll sends every alert over realtime and browser push. When false
	// only the configured push types are sent; the rest are recorded only.
	PushAll bool
}

// AlertDescriptor summarises one created alert.
type AlertDescriptor struct {
	NotificationID uint   `json:"notification_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	AgendaID       uint   `json:"agenda_id"`
	AgendaTitle    string `json:"agenda_title"`
	ProjectName    string `json:"project_name,omitempty"`
}

type AlertResult struct {
	AlertsCreated int               `json:"alerts_created"`
	Alerts        []AlertDescriptor `json:"alerts"`
}

type AlertService struct {
	db        *gorm.DB
	notifier  *Notifier
	loc       *time.Location
	now       Clock
	pushTypes map[string]bool
	history   func(db *gorm.DB, userID, agendaID uint) alertHistory
}

func NewAlertService(db *gorm.DB, notifier *Notifier, loc *time.Location, pushTypes []string) *AlertService {
	if loc == nil {
		loc = time.UTC
	}
	if len(pushTypes) == 0 {
		pushTypes = []string{defaultAlertPushType, models.NotifyTimeElapsedWarning}
	}
	types := make(map[string]bool, len(pushTypes))
	for _, t := range pushTypes {
		types[t] = true
	}
	return &AlertService{db: db, notifier: notifier, loc: loc, now: time.Now, pushTypes: types, history: newDBAlertHistory}
}

// SetClock replaces the time source.
func (s *AlertService) SetClock(c Clock) {
	s.now = c
}

// alertHistory answers dedup questions for one (user, agenda) pair.
type alertHistory interface {
	SentOn(kind string, day time.Time) (bool, error)
	SentEver(kind string) (bool, error)
}

// evaluateAgenda applies the alert rules in precedence order and returns the
// type to raise, or "" when nothing should fire. A pending agenda past its
// start only ever yields stagnation. The elapsed rule blocks the later rules
// only when it fires. A failed history lookup yields no alert.
func evaluateAgenda(agenda *models.Agenda, start, finish, now time.Time, hist alertHistory) (string, error) {
	if agenda.Status == models.AgendaStatusCompleted {
		return "", nil
	}
	today := models.StartOfDay(now)

	unlessSentToday := func(kind string) (string, error) {
		sent, err := hist.SentOn(kind, today)
		if err != nil || sent {
			return "", err
		}
		return kind, nil
	}

	if agenda.Status == models.AgendaStatusPending && now.After(start) {
		return unlessSentToday(models.NotifyStagnation)
	}

	if agenda.Status == models.AgendaStatusInProgress && finish.After(start) {
		ratio := float64(now.Sub(start)) / float64(finish.Sub(start))
		if ratio >= elapsedWarningRatio {
			sent, err := hist.SentEver(models.NotifyTimeElapsedWarning)
			if err != nil {
				return "", err
			}
			if !sent {
				return models.NotifyTimeElapsedWarning, nil
			}
		}
	}

	switch {
	case now.Before(finish) && finish.Sub(now) <= deadlineWarningLead:
		return unlessSentToday(models.NotifyDeadlineWarning)
	case now.After(finish):
		return unlessSentToday(models.NotifyAgendaOverdue)
	}
	return "", nil
}

// alertText renders the title and message for an alert type.
func alertText(kind string, agenda *models.Agenda, start, finish, now time.Time) (string, string) {
	switch kind {
	case models.NotifyStagnation:
		return "Gentle Reminder", fmt.Sprintf("It looks like '%s' is awaiting your start. It was scheduled for %s.", agenda.Title, start.Format(models.TimeLayout))
	case models.NotifyTimeElapsedWarning:
		pct := int(float64(now.Sub(start)) / float64(finish.Sub(start)) * 100)
		return "Time Check", fmt.Sprintf("'%s' has used %d%% of its planned time. Finish is due at %s.", agenda.Title, pct, finish.Format("2006-01-02 15:04"))
	case models.NotifyDeadlineWarning:
		return "Upcoming Milestone", fmt.Sprintf("'%s' is reaching its milestone soon (in %d minutes).", agenda.Title, int(finish.Sub(now).Minutes()))
	case models.NotifyAgendaOverdue:
		return "Milestone Overlooked", fmt.Sprintf("'%s' has passed its expected completion time. Please review current progress or update the schedule.", agenda.Title)
	}
	return "", ""
}

// dbAlertHistory reads dedup state from existing notifications.
type dbAlertHistory struct {
	db       *gorm.DB
	userID   uint
	agendaID uint
}

func newDBAlertHistory(db *gorm.DB, userID, agendaID uint) alertHistory {
	return dbAlertHistory{db: db, userID: userID, agendaID: agendaID}
}

func (h dbAlertHistory) query(kind string) *gorm.DB {
	return h.db.Model(&models.Notification{}).
		Where("user_id = ? AND related_agenda_id = ? AND notification_type = ?", h.userID, h.agendaID, kind)
}

func (h dbAlertHistory) SentOn(kind string, day time.Time) (bool, error) {
	var count int64
	err := h.query(kind).
		Where("created_at >= ? AND created_at < ?", day.UTC(), day.AddDate(0, 0, 1).UTC()).
		Count(&count).Error
	return count > 0, err
}

func (h dbAlertHistory) SentEver(kind string) (bool, error) {
	var count int64
	err := h.query(kind).Count(&count).Error
	return count > 0, err
}

// CheckAndCreateAlerts evaluates every open agenda visible to actor and
// records at most one alert per agenda.
func (s *AlertService) CheckAndCreateAlerts(ctx context.Context, actor Actor, opts AlertOptions) (*AlertResult, error) {
	result := &AlertResult{Alerts: []AlertDescriptor{}}
	if actor.UserID == 0 {
		return result, nil
	}

	db := s.db.WithContext(ctx)
	agendas, err := VisibleAgendas(db, actor, func(q *gorm.DB) *gorm.DB {
		return q.Where("agendas.status <> ?", models.AgendaStatusCompleted)
	})
	if err != nil {
		return nil, fmt.Errorf("load agendas: %w", err)
	}

	now := s.now().In(s.loc)
	box := &outbox{}

	for i := range agendas {
		agenda := &agendas[i]
		start, err := agenda.StartAt(s.loc)
		if err != nil {
			logger.Warn().Err(err).Msg("[Alert] skipping agenda")
			continue
		}
		finish, err := agenda.FinishAt(s.loc)
		if err != nil {
			logger.Warn().Err(err).Msg("[Alert] skipping agenda")
			continue
		}

		kind, err := evaluateAgenda(agenda, start, finish, now, s.history(db, actor.UserID, agenda.ID))
		if err != nil {
			logger.Warn().Err(err).Uint("agenda_id", agenda.ID).Msg("[Alert] dedup lookup failed, skipping agenda")
			continue
		}
		if kind == "" {
			continue
		}

		title, message := alertText(kind, agenda, start, finish, now)
		note := models.Notification{
			UserID:           actor.UserID,
			Title:            title,
			Message:          message,
			NotificationType: kind,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
			CreatedAt:        now.UTC(),
		}
		if err := box.notify(db, &note, s.channelsFor(kind, opts)); err != nil {
			return nil, fmt.Errorf("create alert: %w", err)
		}

		desc := AlertDescriptor{
			NotificationID: note.ID,
			Type:           kind,
			Title:          title,
			Message:        message,
			AgendaID:       agenda.ID,
			AgendaTitle:    agenda.Title,
		}
		if agenda.Project != nil {
			desc.ProjectName = agenda.Project.Name
		}
		result.Alerts = append(result.Alerts, desc)
	}

	s.notifier.Flush(box)
	result.AlertsCreated = len(result.Alerts)
	if result.AlertsCreated > 0 {
		logger.Info().Uint("user_id", actor.UserID).Int("alerts", result.AlertsCreated).Msg("[Alert] alerts created")
	}
	return result, nil
}

func (s *AlertService) channelsFor(kind string, opts AlertOptions) Channels {
	if opts.PushAll || s.pushTypes[kind] {
		return Channels{Realtime: true, Push: true}
	}
	return Channels{}
}
