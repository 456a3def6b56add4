package services

import (
	"errors"
	"testing"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/response"
)

func TestAgendaCreate_SeedsAssignments(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	cy := env.user(t, "cy", false)

	svc := NewAgendaService(env.db, env.notifier, nil)
	agenda, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{
		Title:         "  Quarterly plan ",
		Date:          "2024-05-01",
		Collaborators: assignees(ana, bo, cy),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if agenda.Title != "Quarterly plan" {
		t.Errorf("title = %q, expected trimmed", agenda.Title)
	}
	if agenda.Status != models.AgendaStatusPending || agenda.Priority != models.PriorityMedium || agenda.Type != models.AgendaTypeTask {
		t.Errorf("defaults not applied: status=%s priority=%s type=%s", agenda.Status, agenda.Priority, agenda.Type)
	}
	if agenda.TeamLeaderID == nil || *agenda.TeamLeaderID != *ana.CollaboratorID {
		t.Errorf("leader should default to the creator's profile")
	}
	if len(agenda.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(agenda.Assignments))
	}

	if as := env.assignment(t, agenda.ID, ana.CollaboratorID); as.Status != models.AssignmentAccepted {
		t.Errorf("creator assignment = %s, expected accepted", as.Status)
	}
	for _, who := range []Actor{bo, cy} {
		if as := env.assignment(t, agenda.ID, who.CollaboratorID); as.Status != models.AssignmentPending {
			t.Errorf("%s assignment = %s, expected pending", who.Username, as.Status)
		}
		if got := env.notifications(t, who.UserID, models.NotifyCollaboratorAdded); len(got) != 1 {
			t.Errorf("%s invitations = %d, expected 1", who.Username, len(got))
		}
	}
	if got := env.notifications(t, ana.UserID, ""); len(got) != 0 {
		t.Errorf("creator should not be notified, got %d", len(got))
	}

	tasks := env.queue.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 delivery tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.Email == nil || !task.Realtime || !task.Push {
			t.Errorf("invitation task should use every channel: %+v", task)
		}
	}
}

func TestAgendaCreate_LeaderInvitation(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)

	svc := NewAgendaService(env.db, env.notifier, nil)
	agenda, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{
		Title:        "Kickoff",
		Date:         "2024-05-01",
		Type:         models.AgendaTypeMeeting,
		TeamLeaderID: bo.CollaboratorID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := env.notifications(t, bo.UserID, models.NotifyMeetingInvite)
	if len(got) != 1 {
		t.Fatalf("leader invitations = %d, expected 1", len(got))
	}
	if got[0].Message != "You've been appointed team leader for 'Kickoff'." {
		t.Errorf("unexpected leader message %q", got[0].Message)
	}
	if as := env.assignment(t, agenda.ID, bo.CollaboratorID); as.Status != models.AssignmentPending {
		t.Errorf("leader assignment = %s, expected pending", as.Status)
	}
}

func TestAgendaCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	lone := env.bareUser(t, "lone")
	svc := NewAgendaService(env.db, env.notifier, nil)

	tests := []struct {
		name  string
		actor Actor
		req   CreateAgendaRequest
		kind  response.Kind
		field string
	}{
		{"missing title", ana, CreateAgendaRequest{Date: "2024-05-01"}, response.KindValidation, "title"},
		{"bad date", ana, CreateAgendaRequest{Title: "x", Date: "05/01/2024"}, response.KindValidation, "date"},
		{"bad time", ana, CreateAgendaRequest{Title: "x", Date: "2024-05-01", Time: "25:00"}, response.KindValidation, "time"},
		{"finish before start", ana, CreateAgendaRequest{Title: "x", Date: "2024-05-02", ExpectedFinishDate: "2024-05-01"}, response.KindValidation, "expected_finish_date"},
		{"unknown priority", ana, CreateAgendaRequest{Title: "x", Date: "2024-05-01", Priority: "urgent"}, response.KindValidation, "priority"},
		{"unknown leader", ana, CreateAgendaRequest{Title: "x", Date: "2024-05-01", TeamLeaderID: uintPtr(999)}, response.KindValidation, "team_leader_id"},
		{"unknown collaborator", ana, CreateAgendaRequest{Title: "x", Date: "2024-05-01", Collaborators: []AssigneeInput{{CollaboratorID: 999}}}, response.KindValidation, "collaborators"},
		{"no profile", lone, CreateAgendaRequest{Title: "x", Date: "2024-05-01"}, response.KindPermission, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctxT(t), tt.actor, &tt.req)
			if got := response.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q, expected %q (err %v)", got, tt.kind, err)
			}
			var appErr *response.AppError
			if tt.field != "" && (!errors.As(err, &appErr) || appErr.Field != tt.field) {
				t.Errorf("field = %v, expected %q", err, tt.field)
			}
		})
	}
}

func TestAgendaCreate_ProjectMembership(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	project := env.project(t, "Ops", ana)
	svc := NewAgendaService(env.db, env.notifier, nil)

	if _, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{ProjectID: &project.ID, Title: "ok", Date: "2024-05-01"}); err != nil {
		t.Fatalf("member create: %v", err)
	}
	_, err := svc.Create(ctxT(t), bo, &CreateAgendaRequest{ProjectID: &project.ID, Title: "no", Date: "2024-05-01"})
	if response.KindOf(err) != response.KindPermission {
		t.Errorf("non-member create: expected permission error, got %v", err)
	}
}

func TestAgendaList_Filters(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	svc := NewAgendaService(env.db, env.notifier, nil)

	reqs := []CreateAgendaRequest{
		{Title: "a", Date: "2024-05-01", Priority: models.PriorityHigh},
		{Title: "b", Date: "2024-05-10", Type: models.AgendaTypeMeeting},
		{Title: "c", Date: "2024-06-01", Status: models.AgendaStatusCompleted, Category: models.CategoryLong},
	}
	for i := range reqs {
		if _, err := svc.Create(ctxT(t), admin, &reqs[i]); err != nil {
			t.Fatalf("create %s: %v", reqs[i].Title, err)
		}
	}

	tests := []struct {
		name     string
		filter   AgendaFilter
		expected []string
	}{
		{"all", AgendaFilter{}, []string{"a", "b", "c"}},
		{"priority", AgendaFilter{Priority: models.PriorityHigh}, []string{"a"}},
		{"type", AgendaFilter{Type: models.AgendaTypeMeeting}, []string{"b"}},
		{"status", AgendaFilter{Status: models.AgendaStatusCompleted}, []string{"c"}},
		{"category", AgendaFilter{Category: models.CategoryLong}, []string{"c"}},
		{"date range", AgendaFilter{DateFrom: "2024-05-02", DateTo: "2024-05-31"}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.List(ctxT(t), admin, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d agendas, expected %d", len(got), len(tt.expected))
			}
			for i, title := range tt.expected {
				if got[i].Title != title {
					t.Errorf("agenda %d = %q, expected %q", i, got[i].Title, title)
				}
			}
		})
	}
}

func TestAgendaUpdate_SyncsCollaborators(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	cy := env.user(t, "cy", false)

	agendas := NewAgendaService(env.db, env.notifier, nil)
	assignments := NewAssignmentService(env.db, env.notifier)

	agenda, err := agendas.Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Plan", Date: "2024-05-01", Collaborators: assignees(ana, bo, cy)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := assignments.Accept(ctxT(t), bo, agenda.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := assignments.Reject(ctxT(t), cy, agenda.ID, "on leave"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	list := assignees(ana, bo, cy)
	if _, err := agendas.Update(ctxT(t), ana, agenda.ID, &UpdateAgendaRequest{Title: strPtr("Plan v2"), Collaborators: &list}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if as := env.assignment(t, agenda.ID, cy.CollaboratorID); as.Status != models.AssignmentPending || as.RejectionReason != "" {
		t.Errorf("re-added collaborator should get a fresh pending row, got %+v", as)
	}
	if got := env.notifications(t, cy.UserID, models.NotifyCollaboratorAdded); len(got) != 2 {
		t.Errorf("re-added collaborator invitations = %d, expected 2", len(got))
	}
	if got := env.notifications(t, cy.UserID, models.NotifyAgendaUpdated); len(got) != 0 {
		t.Errorf("re-invited collaborator should not get an update notice, got %d", len(got))
	}
	if got := env.notifications(t, bo.UserID, models.NotifyAgendaUpdated); len(got) != 1 {
		t.Errorf("accepted collaborator update notices = %d, expected 1", len(got))
	}
	if got := env.notifications(t, ana.UserID, models.NotifyAgendaUpdated); len(got) != 0 {
		t.Errorf("editor should not be notified of their own update, got %d", len(got))
	}

	// Dropping bo removes the row; the creator is protected.
	only := assignees(ana)
	updated, err := agendas.Update(ctxT(t), ana, agenda.ID, &UpdateAgendaRequest{Collaborators: &only})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated.Assignments) != 1 || updated.Assignments[0].CollaboratorID != *ana.CollaboratorID {
		t.Errorf("expected only the creator's assignment, got %+v", updated.Assignments)
	}
	if updated.Title != "Plan v2" {
		t.Errorf("nil fields should be kept, title = %q", updated.Title)
	}
}

func TestAgendaUpdate_NewLeaderInTargetList(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	cy := env.user(t, "cy", false)
	svc := NewAgendaService(env.db, env.notifier, nil)

	agenda, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Audit", Date: "2024-05-01"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list := assignees(bo, cy)
	if _, err := svc.Update(ctxT(t), ana, agenda.ID, &UpdateAgendaRequest{TeamLeaderID: bo.CollaboratorID, Collaborators: &list}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tests := []struct {
		who      Actor
		expected string
	}{
		{bo, "You've been appointed team leader for 'Audit'."},
		{cy, "You've been assigned to the initiative: 'Audit'."},
	}
	for _, tt := range tests {
		got := env.notifications(t, tt.who.UserID, models.NotifyCollaboratorAdded)
		if len(got) != 1 {
			t.Fatalf("%s invitations = %d, expected 1", tt.who.Username, len(got))
		}
		if got[0].Message != tt.expected {
			t.Errorf("%s message = %q, expected %q", tt.who.Username, got[0].Message, tt.expected)
		}
	}
	if as := env.assignment(t, agenda.ID, bo.CollaboratorID); as.Status != models.AssignmentPending {
		t.Errorf("new leader assignment = %s, expected pending", as.Status)
	}
}

func TestAgendaUpdate_Permission(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	admin := env.user(t, "admin", true)
	svc := NewAgendaService(env.db, env.notifier, nil)

	agenda, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Plan", Date: "2024-05-01", Collaborators: assignees(bo)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Update(ctxT(t), bo, agenda.ID, &UpdateAgendaRequest{Title: strPtr("mine")}); response.KindOf(err) != response.KindPermission {
		t.Errorf("assignee update: expected permission error, got %v", err)
	}
	if err := svc.Delete(ctxT(t), bo, agenda.ID); response.KindOf(err) != response.KindPermission {
		t.Errorf("assignee delete: expected permission error, got %v", err)
	}
	if _, err := svc.Update(ctxT(t), admin, agenda.ID, &UpdateAgendaRequest{Priority: strPtr(models.PriorityLow)}); err != nil {
		t.Errorf("superuser update: %v", err)
	}
	if err := svc.Delete(ctxT(t), ana, agenda.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if _, err := svc.Get(ctxT(t), admin, agenda.ID); response.KindOf(err) != response.KindNotFound {
		t.Errorf("deleted agenda: expected not found, got %v", err)
	}

	var rows int64
	env.db.Model(&models.AgendaAssignment{}).Where("agenda_id = ?", agenda.ID).Count(&rows)
	if rows != 0 {
		t.Errorf("assignments should be removed with the agenda, %d left", rows)
	}
	var orphaned int64
	env.db.Model(&models.Notification{}).Where("related_agenda_id = ?", agenda.ID).Count(&orphaned)
	if orphaned != 0 {
		t.Errorf("notifications should lose the agenda reference, %d still point at it", orphaned)
	}
}

func TestAgendaToggle_CyclesAndNotifiesLeader(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	svc := NewAgendaService(env.db, env.notifier, nil)

	agenda, err := svc.Create(ctxT(t), ana, &CreateAgendaRequest{Title: "Plan", Date: "2024-05-01", Collaborators: assignees(bo)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	expected := []string{models.AgendaStatusInProgress, models.AgendaStatusCompleted, models.AgendaStatusPending}
	for _, status := range expected {
		got, err := svc.Toggle(ctxT(t), bo, agenda.ID)
		if err != nil {
			t.Fatalf("Toggle: %v", err)
		}
		if got.Status != status {
			t.Errorf("status = %s, expected %s", got.Status, status)
		}
	}
	if got := env.notifications(t, ana.UserID, models.NotifyStatusChange); len(got) != 3 {
		t.Errorf("leader status notices = %d, expected 3", len(got))
	}

	if _, err := svc.Toggle(ctxT(t), ana, agenda.ID); err != nil {
		t.Fatalf("leader Toggle: %v", err)
	}
	if got := env.notifications(t, ana.UserID, models.NotifyStatusChange); len(got) != 3 {
		t.Errorf("leader toggling their own agenda should not be notified, got %d", len(got))
	}

	stranger := env.user(t, "stranger", false)
	if _, err := svc.Toggle(ctxT(t), stranger, agenda.ID); response.KindOf(err) != response.KindNotFound {
		t.Errorf("invisible toggle: expected not found, got %v", err)
	}
}
