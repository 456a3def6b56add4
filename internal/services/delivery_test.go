package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/huangang/agendatrack/internal/models"
)

type published struct {
	topic   string
	payload []byte
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (b *fakeBroadcaster) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, published{topic: topic, payload: payload})
	return nil
}

// fakePushSender answers with a fixed status per endpoint.
type fakePushSender struct {
	status map[string]int
	sent   []string
}

func (s *fakePushSender) Send(_ context.Context, sub *models.PushSubscription, _ []byte) (int, error) {
	s.sent = append(s.sent, sub.Endpoint)
	if code, ok := s.status[sub.Endpoint]; ok && code >= 400 {
		return code, errors.New("push rejected")
	}
	return http.StatusCreated, nil
}

type fakeMailer struct {
	invitations []*Invitation
}

func (m *fakeMailer) SendInvitation(_ context.Context, inv *Invitation) error {
	m.invitations = append(m.invitations, inv)
	return nil
}

func createNotification(t *testing.T, env *testEnv, n models.Notification) *models.Notification {
	t.Helper()
	if err := env.db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}
	return &n
}

func TestDeliver_Realtime(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	agenda := models.Agenda{Title: "Standup", Date: "2024-05-01", Status: models.AgendaStatusPending, Type: models.AgendaTypeMeeting}
	if err := env.db.Create(&agenda).Error; err != nil {
		t.Fatalf("create agenda: %v", err)
	}
	n := createNotification(t, env, models.Notification{UserID: ana.UserID, Title: "Hi", Message: "msg", NotificationType: models.NotifyMeetingInvite, RelatedAgendaID: &agenda.ID})

	bc := &fakeBroadcaster{}
	svc := NewDeliveryService(env.db, bc, nil, nil, "")
	if err := svc.Deliver(ctxT(t), &DeliveryTask{NotificationID: n.ID, Realtime: true}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(bc.events) != 1 || bc.events[0].topic != UserTopic(ana.UserID) {
		t.Fatalf("unexpected events %+v", bc.events)
	}
	var ev RealtimeEvent
	if err := json.Unmarshal(bc.events[0].payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != "notification" || ev.Notification.ID != n.ID || ev.Notification.RelatedAgenda == nil || ev.Notification.RelatedAgenda.Title != "Standup" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestDeliver_PushRemovesGoneSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	for _, ep := range []string{"https://push.example/live", "https://push.example/gone", "https://push.example/broken"} {
		if err := env.db.Create(&models.PushSubscription{UserID: ana.UserID, Endpoint: ep, P256dhKey: "k", AuthKey: "a"}).Error; err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}
	n := createNotification(t, env, models.Notification{UserID: ana.UserID, Title: "Hi", Message: "msg", NotificationType: models.NotifyStatusChange})

	push := &fakePushSender{status: map[string]int{
		"https://push.example/gone":   http.StatusGone,
		"https://push.example/broken": http.StatusInternalServerError,
	}}
	bc := &fakeBroadcaster{}
	svc := NewDeliveryService(env.db, bc, push, nil, "")
	if err := svc.Deliver(ctxT(t), &DeliveryTask{NotificationID: n.ID, Realtime: true, Push: true}); err != nil {
		t.Fatalf("Deliver should not fail on channel errors: %v", err)
	}

	if len(push.sent) != 3 {
		t.Errorf("expected 3 push attempts, got %d", len(push.sent))
	}
	var endpoints []string
	env.db.Model(&models.PushSubscription{}).Order("endpoint").Pluck("endpoint", &endpoints)
	if len(endpoints) != 2 || endpoints[0] != "https://push.example/broken" || endpoints[1] != "https://push.example/live" {
		t.Errorf("only the gone subscription should be removed, left %v", endpoints)
	}
	if len(bc.events) != 1 {
		t.Errorf("realtime should still be delivered, got %d events", len(bc.events))
	}
}

func TestDeliver_ChannelFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	n := createNotification(t, env, models.Notification{UserID: ana.UserID, Title: "New Assignment", Message: "msg", NotificationType: models.NotifyCollaboratorAdded})

	mailer := &fakeMailer{}
	svc := NewDeliveryService(env.db, &fakeBroadcaster{err: errors.New("redis down")}, nil, mailer, "")
	err := svc.Deliver(ctxT(t), &DeliveryTask{
		NotificationID: n.ID,
		Realtime:       true,
		Email:          &EmailContent{To: "ana@example.com", RecipientName: "ana"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(mailer.invitations) != 1 {
		t.Errorf("email should be sent despite the realtime failure, got %d", len(mailer.invitations))
	}
}

func TestDeliver_EmailContent(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana", false)
	project := env.project(t, "Ops")
	agenda := models.Agenda{
		Title:              "Cutover",
		Date:               "2024-05-01",
		Time:               "09:00",
		ExpectedFinishTime: "11:00",
		ProjectID:          &project.ID,
		Status:             models.AgendaStatusPending,
		Type:               models.AgendaTypeTask,
	}
	if err := env.db.Create(&agenda).Error; err != nil {
		t.Fatalf("create agenda: %v", err)
	}
	n := createNotification(t, env, models.Notification{UserID: ana.UserID, Title: "New Assignment", Message: "msg", NotificationType: models.NotifyCollaboratorAdded, RelatedAgendaID: &agenda.ID, RelatedProjectID: &project.ID})

	mailer := &fakeMailer{}
	svc := NewDeliveryService(env.db, nil, nil, mailer, "https://agenda.example/")
	task := &DeliveryTask{NotificationID: n.ID, Email: &EmailContent{To: "ana@example.com", RecipientName: "Ana", Duty: "Run the checklist"}}
	if err := svc.Deliver(ctxT(t), task); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(mailer.invitations) != 1 {
		t.Fatalf("expected one invitation, got %d", len(mailer.invitations))
	}
	inv := mailer.invitations[0]
	expected := Invitation{
		To:            "ana@example.com",
		RecipientName: "Ana",
		AgendaTitle:   "Cutover",
		AgendaType:    models.AgendaTypeTask,
		ProjectName:   "Ops",
		Schedule:      "2024-05-01 09:00 to 2024-05-01 11:00",
		Duty:          "Run the checklist",
		Link:          fmt.Sprintf("https://agenda.example/agendas/%d", agenda.ID),
	}
	if *inv != expected {
		t.Errorf("invitation = %+v\nexpected %+v", *inv, expected)
	}

	// No address means no mail.
	task.Email.To = ""
	if err := svc.Deliver(ctxT(t), task); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(mailer.invitations) != 1 {
		t.Errorf("missing address should skip email, got %d", len(mailer.invitations))
	}
}

func TestDeliver_MissingNotification(t *testing.T) {
	env := newTestEnv(t)
	svc := NewDeliveryService(env.db, &fakeBroadcaster{}, nil, nil, "")
	if err := svc.Deliver(ctxT(t), &DeliveryTask{NotificationID: 4242, Realtime: true}); err != nil {
		t.Errorf("deleted notification should be skipped, got %v", err)
	}
}

func TestSyncQueue_RunsProcessor(t *testing.T) {
	q := NewSyncQueue()
	var mu sync.Mutex
	var seen []uint
	q.SetProcessor(func(_ context.Context, task *DeliveryTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.NotificationID)
		return nil
	})

	for i := uint(1); i <= 3; i++ {
		if err := q.Enqueue(&DeliveryTask{NotificationID: i}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Wait()

	if len(seen) != 3 {
		t.Errorf("processed %d tasks, expected 3", len(seen))
	}
	if q.IsAsync() {
		t.Error("SyncQueue should not report async")
	}
}
