package services

import (
	"testing"
	"time"

	"github.com/huangang/agendatrack/internal/models"
)

type fixedWorkdays bool

func (w fixedWorkdays) IsWorkday(time.Time) bool { return bool(w) }

func TestAcquireSchedulerLock(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	ok, err := AcquireSchedulerLock(db, "alert_sweep", "2024-05-01T09:00", "a", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; expected success", ok, err)
	}
	ok, err = AcquireSchedulerLock(db, "alert_sweep", "2024-05-01T09:00", "b", time.Minute, now.Add(30*time.Second))
	if err != nil || ok {
		t.Fatalf("claim of a held slot = %v, %v; expected refusal", ok, err)
	}
	ok, err = AcquireSchedulerLock(db, "alert_sweep", "2024-05-01T09:01", "b", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("claim of another slot = %v, %v; expected success", ok, err)
	}

	ok, err = AcquireSchedulerLock(db, "alert_sweep", "2024-05-01T09:00", "b", time.Minute, now.Add(2*time.Minute))
	if err != nil || !ok {
		t.Fatalf("claim of an expired slot = %v, %v; expected takeover", ok, err)
	}
	var lock models.SchedulerLock
	db.Where("lock_name = ? AND lock_key = ?", "alert_sweep", "2024-05-01T09:00").First(&lock)
	if lock.LockedBy != "b" {
		t.Errorf("LockedBy = %q, expected b", lock.LockedBy)
	}
}

func TestRunSweep(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	env.bareUser(t, "lone")

	if _, err := NewAgendaService(env.db, env.notifier, nil).Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Late", Date: "2024-05-01"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	alerts := NewAlertService(env.db, env.notifier, time.UTC, nil)
	alerts.SetClock(fixedClock(now))

	sched := NewAlertScheduler(env.db, alerts, nil, fixedWorkdays(true), "*/15 * * * *", time.UTC)
	sched.SetClock(fixedClock(now))

	res, err := sched.RunSweep(ctxT(t))
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Skipped != "" || res.Users != 1 || res.AlertsCreated != 1 {
		t.Errorf("unexpected sweep result %+v", res)
	}

	// A second instance sees the slot taken.
	other := NewAlertScheduler(env.db, alerts, nil, fixedWorkdays(true), "*/15 * * * *", time.UTC)
	other.SetClock(fixedClock(now))
	if res, err := other.RunSweep(ctxT(t)); err != nil || res.Skipped != "locked" {
		t.Errorf("second instance = %+v, %v; expected locked", res, err)
	}

	holiday := NewAlertScheduler(env.db, alerts, nil, fixedWorkdays(false), "*/15 * * * *", time.UTC)
	holiday.SetClock(fixedClock(now.Add(time.Hour)))
	if res, err := holiday.RunSweep(ctxT(t)); err != nil || res.Skipped != "non-workday" {
		t.Errorf("non-workday sweep = %+v, %v; expected skip", res, err)
	}
}

func TestAlertScheduler_StartStop(t *testing.T) {
	db := newTestDB(t)
	sched := NewAlertScheduler(db, NewAlertService(db, nil, nil, nil), NewSystemLogService(db), nil, "*/15 * * * *", nil)
	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.Stop()

	bad := NewAlertScheduler(db, NewAlertService(db, nil, nil, nil), nil, nil, "not a cron spec", nil)
	if err := bad.Start(); err == nil {
		t.Error("invalid cron spec should fail to start")
	}
}
