package services

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	alertSweepLock  = "alert_sweep"
	sweepLockTTL    = 10 * time.Minute
	logCleanupSpec  = "0 3 * * *"
	sweepSlotLayout = "2006-01-02T15:04"
	logCleanupLock  = "log_cleanup"
)

// SweepResult summarises one periodic alert sweep.
type SweepResult struct {
	Skipped       string `json:"skipped,omitempty"`
	Users         int    `json:"users"`
	AlertsCreated int    `json:"alerts_created"`
}

// AlertScheduler runs the alert check for every active user on a cron
// schedule. Each slot is claimed through a SchedulerLock row so that only one
// instance sweeps it.
type AlertScheduler struct {
	db       *gorm.DB
	alerts   *AlertService
	logs     *SystemLogService
	workdays WorkdayChecker
	spec     string
	loc      *time.Location
	instance string
	now      Clock
	cron     *cron.Cron
}

func NewAlertScheduler(db *gorm.DB, alerts *AlertService, logs *SystemLogService, workdays WorkdayChecker, spec string, loc *time.Location) *AlertScheduler {
	if loc == nil {
		loc = time.UTC
	}
	host, _ := os.Hostname()
	return &AlertScheduler{
		db:       db,
		alerts:   alerts,
		logs:     logs,
		workdays: workdays,
		spec:     spec,
		loc:      loc,
		instance: host + "-" + uuid.NewString()[:8],
		now:      time.Now,
	}
}

func (s *AlertScheduler) SetClock(c Clock) { s.now = c }

func (s *AlertScheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(s.loc))

	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunSweep(context.Background()); err != nil {
			logger.Error().Err(err).Msg("[AlertScheduler] sweep failed")
		}
	}); err != nil {
		return err
	}
	if s.logs != nil {
		if _, err := s.cron.AddFunc(logCleanupSpec, s.runLogCleanup); err != nil {
			return err
		}
	}

	s.cron.Start()
	logger.Info().Str("cron", s.spec).Str("instance", s.instance).Msg("[AlertScheduler] started")
	return nil
}

// Stop waits for a running job to finish.
func (s *AlertScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	logger.Info().Msg("[AlertScheduler] stopped")
}

// RunSweep checks alerts for every active user with a profile or superuser
// rights. Only the interactive alert types are pushed.
func (s *AlertScheduler) RunSweep(ctx context.Context) (*SweepResult, error) {
	now := s.now().In(s.loc)
	if s.workdays != nil && !s.workdays.IsWorkday(now) {
		logger.Debug().Str("day", now.Format(models.DateLayout)).Msg("[AlertScheduler] non-workday, skipping")
		return &SweepResult{Skipped: "non-workday"}, nil
	}

	slot := now.Truncate(time.Minute).Format(sweepSlotLayout)
	ok, err := AcquireSchedulerLock(s.db.WithContext(ctx), alertSweepLock, slot, s.instance, sweepLockTTL, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Debug().Str("slot", slot).Msg("[AlertScheduler] slot held by another instance")
		return &SweepResult{Skipped: "locked"}, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Preload("Collaborator").Where("is_active = ?", true).Find(&users).Error; err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for i := range users {
		actor := ActorFor(&users[i])
		if !actor.IsSuperuser && !actor.HasProfile() {
			continue
		}
		res, err := s.alerts.CheckAndCreateAlerts(ctx, actor, AlertOptions{PushAll: false})
		if err != nil {
			logger.Warn().Err(err).Uint("user_id", actor.UserID).Msg("[AlertScheduler] check failed")
			continue
		}
		result.Users++
		result.AlertsCreated += res.AlertsCreated
	}

	logger.Info().Str("slot", slot).Int("users", result.Users).Int("alerts", result.AlertsCreated).Msg("[AlertScheduler] sweep done")
	return result, nil
}

func (s *AlertScheduler) runLogCleanup() {
	now := s.now().In(s.loc)
	ok, err := AcquireSchedulerLock(s.db, logCleanupLock, now.Format(models.DateLayout), s.instance, time.Hour, now)
	if err != nil || !ok {
		return
	}
	s.logs.RunCleanup()
}

// AcquireSchedulerLock claims (name, key) for owner. An existing row can only
// be taken over once it has expired.
func AcquireSchedulerLock(db *gorm.DB, name, key, owner string, ttl time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Updates(map[string]interface{}{
			"locked_by":  owner,
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
