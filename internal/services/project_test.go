package services

import (
	"testing"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/response"
)

func TestProjectCreate(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	root := env.user(t, "root", true)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)

	svc := NewProjectService(env.db, env.notifier, nil)

	if _, err := svc.Create(ctxT(t), ana, &CreateProjectRequest{Name: "Mine"}); response.KindOf(err) != response.KindPermission {
		t.Fatalf("non-superuser create: expected permission error, got %v", err)
	}

	project, err := svc.Create(ctxT(t), admin, &CreateProjectRequest{Name: " Ops ", MemberIDs: []uint{*ana.CollaboratorID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if project.Name != "Ops" || project.Color != models.DefaultProjectColor {
		t.Errorf("unexpected project %+v", project)
	}

	for _, who := range []Actor{admin, root, ana} {
		if !project.HasMember(*who.CollaboratorID) {
			t.Errorf("%s should be a member", who.Username)
		}
	}
	if project.HasMember(*bo.CollaboratorID) {
		t.Error("bo was not requested as a member")
	}

	if got := env.notifications(t, ana.UserID, models.NotifyProjectCreated); len(got) != 1 {
		t.Errorf("member notices = %d, expected 1", len(got))
	}
	if got := env.notifications(t, root.UserID, models.NotifyProjectCreated); len(got) != 1 {
		t.Errorf("superuser member notices = %d, expected 1", len(got))
	}
	if got := env.notifications(t, admin.UserID, models.NotifyProjectCreated); len(got) != 0 {
		t.Errorf("creator should not be notified, got %d", len(got))
	}

	if _, err := svc.Create(ctxT(t), admin, &CreateProjectRequest{Name: "Bad", Color: "chartreuse"}); response.KindOf(err) != response.KindValidation {
		t.Errorf("bad color: expected validation error, got %v", err)
	}
}

func TestProjectVisibilityAndMembers(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	ana := env.user(t, "ana", false)
	bo := env.user(t, "bo", false)
	svc := NewProjectService(env.db, env.notifier, nil)

	project, err := svc.Create(ctxT(t), admin, &CreateProjectRequest{Name: "Ops"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if list, _ := svc.List(ctxT(t), ana, nil); len(list) != 0 {
		t.Errorf("non-member should not list the project, got %d", len(list))
	}
	if _, err := svc.Get(ctxT(t), ana, project.ID); response.KindOf(err) != response.KindNotFound {
		t.Errorf("non-member Get: expected not found, got %v", err)
	}
	if _, err := svc.AddMember(ctxT(t), ana, project.ID, *ana.CollaboratorID); response.KindOf(err) != response.KindPermission {
		t.Errorf("non-superuser AddMember: expected permission error, got %v", err)
	}

	if _, err := svc.AddMember(ctxT(t), admin, project.ID, *ana.CollaboratorID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if list, _ := svc.List(ctxT(t), ana, &ProjectListRequest{Name: "op"}); len(list) != 1 {
		t.Errorf("member should list the project, got %d", len(list))
	}
	if _, err := svc.RemoveMember(ctxT(t), admin, project.ID, *bo.CollaboratorID); response.KindOf(err) != response.KindNotFound {
		t.Errorf("RemoveMember of a non-member: expected not found, got %v", err)
	}
	updated, err := svc.RemoveMember(ctxT(t), admin, project.ID, *ana.CollaboratorID)
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if updated.HasMember(*ana.CollaboratorID) {
		t.Error("ana should no longer be a member")
	}
}

func TestProjectRemoveMember_PermanentMembers(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	root := env.user(t, "root", true)
	svc := NewProjectService(env.db, env.notifier, nil)

	project, err := svc.Create(ctxT(t), admin, &CreateProjectRequest{Name: "Ops"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// admin keeps creator status after losing superuser rights.
	if err := env.db.Model(&models.User{}).Where("id = ?", admin.UserID).Update("is_superuser", false).Error; err != nil {
		t.Fatalf("demote: %v", err)
	}

	tests := []struct {
		name   string
		member Actor
	}{
		{"creator", admin},
		{"superuser", root},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RemoveMember(ctxT(t), root, project.ID, *tt.member.CollaboratorID)
			if response.KindOf(err) != response.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			got, err := svc.Get(ctxT(t), root, project.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !got.HasMember(*tt.member.CollaboratorID) {
				t.Errorf("%s should still be a member", tt.member.Username)
			}
		})
	}
}

func TestProjectDelete_Cascades(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	ana := env.user(t, "ana", false)
	projects := NewProjectService(env.db, env.notifier, nil)
	agendas := NewAgendaService(env.db, env.notifier, nil)

	project, err := projects.Create(ctxT(t), admin, &CreateProjectRequest{Name: "Ops", MemberIDs: []uint{*ana.CollaboratorID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	agenda, err := agendas.Create(ctxT(t), ana, &CreateAgendaRequest{ProjectID: &project.ID, Title: "Patch", Date: "2024-05-01"})
	if err != nil {
		t.Fatalf("create agenda: %v", err)
	}

	if err := projects.Delete(ctxT(t), ana, project.ID); response.KindOf(err) != response.KindPermission {
		t.Fatalf("non-superuser delete: expected permission error, got %v", err)
	}
	if err := projects.Delete(ctxT(t), admin, project.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := agendas.Get(ctxT(t), admin, agenda.ID); response.KindOf(err) != response.KindNotFound {
		t.Errorf("agenda should be deleted with its project, got %v", err)
	}
	if got := env.notifications(t, ana.UserID, models.NotifyProjectCreated); len(got) != 0 {
		t.Errorf("project notifications should be removed, got %d", len(got))
	}
}

func TestProjectStats(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	agenda := func(status, date string) models.Agenda {
		return models.Agenda{Status: status, Date: date}
	}

	tests := []struct {
		name     string
		agendas  []models.Agenda
		expected ProjectStats
	}{
		{"empty", nil, ProjectStats{Performance: "Low"}},
		{
			"high",
			[]models.Agenda{
				agenda(models.AgendaStatusCompleted, "2024-05-01"),
				agenda(models.AgendaStatusCompleted, "2024-05-01"),
				agenda(models.AgendaStatusCompleted, "2024-05-01"),
				agenda(models.AgendaStatusPending, "2024-05-20"),
			},
			ProjectStats{Total: 4, Completed: 3, Pending: 1, ProgressPercent: 75, Performance: "High"},
		},
		{
			"medium with overdue",
			[]models.Agenda{
				agenda(models.AgendaStatusCompleted, "2024-05-01"),
				agenda(models.AgendaStatusInProgress, "2024-05-01"),
			},
			ProjectStats{Total: 2, Completed: 1, Pending: 1, Overdue: 1, ProgressPercent: 50, Performance: "Medium"},
		},
		{
			"low",
			[]models.Agenda{
				agenda(models.AgendaStatusCompleted, "2024-05-01"),
				agenda(models.AgendaStatusPending, "2024-05-20"),
				agenda(models.AgendaStatusPending, "2024-05-20"),
			},
			ProjectStats{Total: 3, Completed: 1, Pending: 2, ProgressPercent: 33, Performance: "Low"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := projectStats(tt.agendas, now, time.UTC); got != tt.expected {
				t.Errorf("projectStats = %+v, expected %+v", got, tt.expected)
			}
		})
	}
}
