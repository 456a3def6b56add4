package services

import (
	"testing"
	"time"

	"github.com/huangang/agendatrack/internal/models"
)

func seedDashboard(t *testing.T, env *testEnv, actor Actor, projectID *uint) {
	t.Helper()
	svc := NewAgendaService(env.db, env.notifier, nil)
	reqs := []CreateAgendaRequest{
		{ProjectID: projectID, Title: "Write report", Date: "2024-05-10", Priority: models.PriorityHigh},
		{ProjectID: projectID, Title: "Review budget", Date: "2024-05-01", Status: models.AgendaStatusInProgress},
		{ProjectID: projectID, Title: "Ship release", Date: "2024-05-09", Status: models.AgendaStatusCompleted},
		{Title: "Personal errand", Date: "2024-05-20", Time: "14:00", ExpectedFinishDate: "2024-05-21", ExpectedFinishTime: "10:00"},
	}
	for i := range reqs {
		if _, err := svc.Create(ctxT(t), actor, &reqs[i]); err != nil {
			t.Fatalf("create %s: %v", reqs[i].Title, err)
		}
	}
}

func TestDashboardService_Dashboard(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	project := env.project(t, "Ops", ana)
	seedDashboard(t, env, ana, &project.ID)

	svc := NewDashboardService(env.db, time.UTC)
	svc.SetClock(fixedClock(time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)))

	resp, err := svc.Dashboard(ctxT(t), ana)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	expected := DashboardStats{TotalAgendas: 4, CompletedAgendas: 1, PendingAgendas: 2, InProgressAgendas: 1, OverdueCount: 1, TodayCount: 1}
	if resp.Stats != expected {
		t.Errorf("stats = %+v, expected %+v", resp.Stats, expected)
	}
	if len(resp.Projects) != 1 || len(resp.RecentAgendas) != 4 || len(resp.OverdueAgendas) != 1 {
		t.Errorf("projects=%d recent=%d overdue=%d", len(resp.Projects), len(resp.RecentAgendas), len(resp.OverdueAgendas))
	}

	stranger := env.user(t, "stranger", false)
	empty, err := svc.Dashboard(ctxT(t), stranger)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if empty.Stats.TotalAgendas != 0 || len(empty.Projects) != 0 {
		t.Errorf("stranger should see nothing, got %+v", empty.Stats)
	}
}

func TestDashboardService_SearchAndCalendar(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	project := env.project(t, "Ops Budget", ana)
	seedDashboard(t, env, ana, &project.ID)
	svc := NewDashboardService(env.db, time.UTC)

	res, err := svc.Search(ctxT(t), ana, "BUDGET")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Projects) != 1 || len(res.Agendas) != 1 {
		t.Errorf("search found %d projects and %d agendas", len(res.Projects), len(res.Agendas))
	}
	if res, _ := svc.Search(ctxT(t), ana, "  "); len(res.Agendas) != 0 || len(res.Projects) != 0 {
		t.Error("empty query should return nothing")
	}

	events, err := svc.Calendar(ctxT(t), ana, "2024-05-15", "2024-05-31")
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event in range, got %d", len(events))
	}
	ev := events[0]
	if ev.Start != "2024-05-20T14:00" || ev.End != "2024-05-21T10:00" || ev.Color != models.DefaultProjectColor {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestDashboardService_OverviewAndAnalytics(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	project := env.project(t, "Ops", ana)
	seedDashboard(t, env, ana, &project.ID)

	svc := NewDashboardService(env.db, time.UTC)
	svc.SetClock(fixedClock(time.Now()))

	overview, err := svc.Overview(ctxT(t), ana)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.PendingCount != 2 || overview.InProgressCount != 1 || overview.HighPriorityCount != 1 {
		t.Errorf("unexpected overview counts %+v", overview)
	}
	if len(overview.AllUndone) != 3 || overview.CompletedTodayCount != 1 {
		t.Errorf("undone=%d completed today=%d", len(overview.AllUndone), overview.CompletedTodayCount)
	}

	analytics, err := svc.Analytics(ctxT(t), ana)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if analytics.GlobalStats.TotalProjects != 1 || analytics.GlobalStats.TotalTasks != 4 || analytics.GlobalStats.Progress != 25 {
		t.Errorf("unexpected global stats %+v", analytics.GlobalStats)
	}
	if len(analytics.ProjectsData) != 1 || analytics.ProjectsData[0].Stats.Total != 3 {
		t.Fatalf("unexpected project data %+v", analytics.ProjectsData)
	}
	if len(analytics.ProjectsData[0].Collaborators) != 1 || analytics.ProjectsData[0].Collaborators[0].Name != "ana" {
		t.Errorf("collaborators = %+v", analytics.ProjectsData[0].Collaborators)
	}
}
