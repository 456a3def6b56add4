package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/huangang/agendatrack/internal/config"
	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingQueue captures delivery tasks instead of running them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []DeliveryTask
}

func (q *recordingQueue) Enqueue(task *DeliveryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, *task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

func (q *recordingQueue) Tasks() []DeliveryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeliveryTask(nil), q.tasks...)
}

func (q *recordingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

type testEnv struct {
	db       *gorm.DB
	queue    *recordingQueue
	notifier *Notifier
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	q := &recordingQueue{}
	return &testEnv{db: newTestDB(t), queue: q, notifier: NewNotifier(q)}
}

// user creates an active user with a collaborator profile.
func (e *testEnv) user(t *testing.T, username string, superuser bool) Actor {
	t.Helper()
	u := models.User{
		Username:    username,
		Email:       username + "@example.com",
		FirstName:   username,
		IsActive:    true,
		IsSuperuser: superuser,
		AuthType:    AuthTypeLocal,
	}
	if err := e.db.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	c := models.Collaborator{UserID: &u.ID, Name: username, Email: u.Email}
	if err := e.db.Create(&c).Error; err != nil {
		t.Fatalf("create collaborator %s: %v", username, err)
	}
	u.Collaborator = &c
	return ActorFor(&u)
}

// bareUser creates an active user without a collaborator profile.
func (e *testEnv) bareUser(t *testing.T, username string) Actor {
	t.Helper()
	u := models.User{Username: username, IsActive: true, AuthType: AuthTypeLocal}
	if err := e.db.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return ActorFor(&u)
}

func (e *testEnv) project(t *testing.T, name string, members ...Actor) models.Project {
	t.Helper()
	p := models.Project{Name: name, Color: models.DefaultProjectColor}
	if err := e.db.Create(&p).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	var ids []uint
	for _, m := range members {
		ids = append(ids, *m.CollaboratorID)
	}
	if len(ids) > 0 {
		var collabs []models.Collaborator
		if err := e.db.Find(&collabs, ids).Error; err != nil {
			t.Fatalf("load members: %v", err)
		}
		if err := e.db.Model(&p).Association("Members").Append(collabs); err != nil {
			t.Fatalf("add members: %v", err)
		}
	}
	return p
}

func (e *testEnv) notifications(t *testing.T, userID uint, kind string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	q := e.db.Where("user_id = ?", userID)
	if kind != "" {
		q = q.Where("notification_type = ?", kind)
	}
	if err := q.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	return rows
}

func (e *testEnv) assignment(t *testing.T, agendaID uint, collab *uint) models.AgendaAssignment {
	t.Helper()
	var as models.AgendaAssignment
	if err := e.db.Where("agenda_id = ? AND collaborator_id = ?", agendaID, *collab).First(&as).Error; err != nil {
		t.Fatalf("load assignment: %v", err)
	}
	return as
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func strPtr(s string) *string { return &s }

func ctxT(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func assignees(actors ...Actor) []AssigneeInput {
	out := make([]AssigneeInput, 0, len(actors))
	for _, a := range actors {
		out = append(out, AssigneeInput{CollaboratorID: *a.CollaboratorID})
	}
	return out
}
