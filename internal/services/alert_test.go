package services

import (
	"errors"
	"testing"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
)

// fakeHistory records sent alerts keyed by type and day.
type fakeHistory struct {
	days map[string]map[time.Time]bool
	err  error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{days: map[string]map[time.Time]bool{}}
}

func (h *fakeHistory) add(kind string, day time.Time) *fakeHistory {
	if h.days[kind] == nil {
		h.days[kind] = map[time.Time]bool{}
	}
	h.days[kind][models.StartOfDay(day)] = true
	return h
}

func (h *fakeHistory) SentOn(kind string, day time.Time) (bool, error) {
	return h.days[kind][day], h.err
}

func (h *fakeHistory) SentEver(kind string) (bool, error) {
	return len(h.days[kind]) > 0, h.err
}

func TestEvaluateAgenda(t *testing.T) {
	at := func(hour, min int) time.Time { return time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC) }
	start, finish := at(8, 0), at(10, 0)

	tests := []struct {
		name     string
		status   string
		now      time.Time
		hist     *fakeHistory
		expected string
	}{
		{"completed never alerts", models.AgendaStatusCompleted, at(11, 0), newFakeHistory(), ""},
		{"pending before start", models.AgendaStatusPending, at(7, 0), newFakeHistory(), ""},
		{"pending after start stagnates", models.AgendaStatusPending, at(8, 30), newFakeHistory(), models.NotifyStagnation},
		{"stagnation once per day", models.AgendaStatusPending, at(8, 30), newFakeHistory().add(models.NotifyStagnation, at(8, 1)), ""},
		{"stagnation again next day", models.AgendaStatusPending, at(8, 30).AddDate(0, 0, 1), newFakeHistory().add(models.NotifyStagnation, at(8, 1)), models.NotifyStagnation},
		{"pending overdue still stagnation", models.AgendaStatusPending, at(11, 0), newFakeHistory(), models.NotifyStagnation},
		{"in progress early", models.AgendaStatusInProgress, at(8, 30), newFakeHistory(), ""},
		{"elapsed warning at eighty percent", models.AgendaStatusInProgress, at(9, 36), newFakeHistory(), models.NotifyTimeElapsedWarning},
		{"elapsed warning only once", models.AgendaStatusInProgress, at(9, 50), newFakeHistory().add(models.NotifyTimeElapsedWarning, at(9, 36)), models.NotifyDeadlineWarning},
		{"deadline warning once per day", models.AgendaStatusInProgress, at(9, 55), newFakeHistory().add(models.NotifyTimeElapsedWarning, at(9, 36)).add(models.NotifyDeadlineWarning, at(9, 50)), ""},
		{"overdue", models.AgendaStatusInProgress, at(10, 30), newFakeHistory().add(models.NotifyTimeElapsedWarning, at(9, 36)), models.NotifyAgendaOverdue},
		{"overdue once per day", models.AgendaStatusInProgress, at(10, 30), newFakeHistory().add(models.NotifyTimeElapsedWarning, at(9, 36)).add(models.NotifyAgendaOverdue, at(10, 1)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agenda := &models.Agenda{Status: tt.status}
			got, err := evaluateAgenda(agenda, start, finish, tt.now, tt.hist)
			if err != nil {
				t.Fatalf("evaluateAgenda: %v", err)
			}
			if got != tt.expected {
				t.Errorf("evaluateAgenda = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestEvaluateAgenda_HistoryFailure(t *testing.T) {
	at := func(hour, min int) time.Time { return time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC) }
	start, finish := at(8, 0), at(10, 0)
	broken := &fakeHistory{days: map[string]map[time.Time]bool{}, err: errors.New("database is locked")}

	tests := []struct {
		name   string
		status string
		now    time.Time
	}{
		{"stagnation", models.AgendaStatusPending, at(8, 30)},
		{"elapsed warning", models.AgendaStatusInProgress, at(9, 40)},
		{"overdue", models.AgendaStatusInProgress, at(10, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateAgenda(&models.Agenda{Status: tt.status}, start, finish, tt.now, broken)
			if err == nil || got != "" {
				t.Errorf("evaluateAgenda = %q, %v; expected no alert and an error", got, err)
			}
		})
	}
}

func TestAlertText(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	finish := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	agenda := &models.Agenda{Title: "Deploy"}

	title, msg := alertText(models.NotifyDeadlineWarning, agenda, start, finish, finish.Add(-45*time.Minute))
	if title != "Upcoming Milestone" || msg != "'Deploy' is reaching its milestone soon (in 45 minutes)." {
		t.Errorf("deadline text = %q / %q", title, msg)
	}
	_, msg = alertText(models.NotifyTimeElapsedWarning, agenda, start, finish, start.Add(96*time.Minute))
	if msg != "'Deploy' has used 80% of its planned time. Finish is due at 2024-05-01 10:00." {
		t.Errorf("elapsed text = %q", msg)
	}
}

func TestCheckAndCreateAlerts(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)

	agendas := NewAgendaService(env.db, env.notifier, nil)
	agenda, err := agendas.Create(ctxT(t), ana, &CreateAgendaRequest{
		Title:              "Deploy",
		Date:               "2024-05-01",
		Time:               "08:00",
		ExpectedFinishTime: "10:00",
		Status:             models.AgendaStatusInProgress,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.Reset()

	svc := NewAlertService(env.db, env.notifier, time.UTC, []string{models.NotifyDeadlineWarning})
	check := func(hour, min int, opts AlertOptions) *AlertResult {
		t.Helper()
		svc.SetClock(fixedClock(time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC)))
		res, err := svc.CheckAndCreateAlerts(ctxT(t), ana, opts)
		if err != nil {
			t.Fatalf("CheckAndCreateAlerts: %v", err)
		}
		return res
	}

	res := check(9, 48, AlertOptions{})
	if res.AlertsCreated != 1 || res.Alerts[0].Type != models.NotifyTimeElapsedWarning || res.Alerts[0].AgendaID != agenda.ID {
		t.Fatalf("expected an elapsed warning, got %+v", res)
	}
	if tasks := env.queue.Tasks(); len(tasks) != 0 {
		t.Errorf("elapsed warning is not a push type, got %d tasks", len(tasks))
	}

	res = check(9, 50, AlertOptions{})
	if res.AlertsCreated != 1 || res.Alerts[0].Type != models.NotifyDeadlineWarning {
		t.Fatalf("expected a deadline warning, got %+v", res)
	}
	if tasks := env.queue.Tasks(); len(tasks) != 1 || !tasks[0].Push {
		t.Errorf("deadline warning should be pushed, got %+v", tasks)
	}

	if res := check(9, 55, AlertOptions{PushAll: true}); res.AlertsCreated != 0 {
		t.Errorf("repeat check should not alert again, got %+v", res)
	}

	env.queue.Reset()
	res = check(10, 30, AlertOptions{PushAll: true})
	if res.AlertsCreated != 1 || res.Alerts[0].Type != models.NotifyAgendaOverdue {
		t.Fatalf("expected an overdue alert, got %+v", res)
	}
	if tasks := env.queue.Tasks(); len(tasks) != 1 {
		t.Errorf("PushAll should deliver every alert, got %d tasks", len(tasks))
	}
	if got := env.notifications(t, ana.UserID, ""); len(got) != 3 {
		t.Errorf("expected 3 stored alerts, got %d", len(got))
	}
}

func TestCheckAndCreateAlerts_SkipsCompletedAndInvisible(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)

	agendas := NewAgendaService(env.db, env.notifier, nil)
	for _, req := range []CreateAgendaRequest{
		{Title: "Done", Date: "2024-05-01", Status: models.AgendaStatusCompleted},
		{Title: "Late", Date: "2024-05-01"},
	} {
		req := req
		if _, err := agendas.Create(ctxT(t), ana, &req); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	svc := NewAlertService(env.db, env.notifier, time.UTC, nil)
	svc.SetClock(fixedClock(time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)))

	res, err := svc.CheckAndCreateAlerts(ctxT(t), ana, AlertOptions{})
	if err != nil {
		t.Fatalf("CheckAndCreateAlerts: %v", err)
	}
	if res.AlertsCreated != 1 || res.Alerts[0].AgendaTitle != "Late" || res.Alerts[0].Type != models.NotifyStagnation {
		t.Errorf("expected one stagnation alert for the open agenda, got %+v", res)
	}

	res, err = svc.CheckAndCreateAlerts(ctxT(t), bo, AlertOptions{})
	if err != nil {
		t.Fatalf("CheckAndCreateAlerts: %v", err)
	}
	if res.AlertsCreated != 0 {
		t.Errorf("unrelated user should get no alerts, got %+v", res)
	}
}

func TestCheckAndCreateAlerts_HistoryFailureSkipsAgenda(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)

	agendas := NewAgendaService(env.db, env.notifier, nil)
	if _, err := agendas.Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Late", Date: "2024-05-01"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.Reset()

	svc := NewAlertService(env.db, env.notifier, time.UTC, nil)
	svc.SetClock(fixedClock(time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)))
	svc.history = func(*gorm.DB, uint, uint) alertHistory {
		return &fakeHistory{err: errors.New("database is locked")}
	}

	res, err := svc.CheckAndCreateAlerts(ctxT(t), ana, AlertOptions{PushAll: true})
	if err != nil {
		t.Fatalf("CheckAndCreateAlerts: %v", err)
	}
	if res.AlertsCreated != 0 {
		t.Errorf("failed dedup lookup should not alert, got %+v", res)
	}
	if got := env.notifications(t, ana.UserID, models.NotifyStagnation); len(got) != 0 {
		t.Errorf("expected no stored alerts, got %d", len(got))
	}
	if tasks := env.queue.Tasks(); len(tasks) != 0 {
		t.Errorf("expected no deliveries, got %d", len(tasks))
	}
}
