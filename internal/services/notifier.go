package services

import (
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"gorm.io/gorm"
)

// Channels selects the delivery channels for one notification. The in-app
// record is always written.
type Channels struct {
	Realtime bool
	Push     bool
	Email    *EmailContent
}

// Interactive is used for notifications caused by a user action.
var Interactive = Channels{Realtime: true, Push: true}

// outbox collects delivery tasks for notifications written inside a
// transaction. It is flushed only after the transaction commits.
type outbox struct {
	tasks []DeliveryTask
}

func (o *outbox) notify(tx *gorm.DB, n *models.Notification, ch Channels) error {
	if err := tx.Create(n).Error; err != nil {
		return err
	}
	if !ch.Realtime && !ch.Push && ch.Email == nil {
		return nil
	}
	o.tasks = append(o.tasks, DeliveryTask{
		NotificationID: n.ID,
		Realtime:       ch.Realtime,
		Push:           ch.Push,
		Email:          ch.Email,
	})
	return nil
}

// notifyCollaborator addresses a notification to the collaborator's linked
// user. Placeholder profiles without a user are skipped.
func (o *outbox) notifyCollaborator(tx *gorm.DB, collab *models.Collaborator, n models.Notification, ch Channels) error {
	if collab == nil || collab.UserID == nil {
		return nil
	}
	n.UserID = *collab.UserID
	return o.notify(tx, &n, ch)
}

// Notifier hands committed notifications to the delivery queue.
type Notifier struct {
	queue DeliveryQueue
}

func NewNotifier(queue DeliveryQueue) *Notifier {
	return &Notifier{queue: queue}
}

// Flush enqueues every collected task. Enqueue failures are logged and
// dropped; the notification rows are already committed.
func (n *Notifier) Flush(box *outbox) {
	if n == nil || box == nil {
		return
	}
	for i := range box.tasks {
		task := box.tasks[i]
		if n.queue == nil {
			logger.Debug().Uint("notification_id", task.NotificationID).Msg("[Notifier] no delivery queue, skipping")
			continue
		}
		if err := n.queue.Enqueue(&task); err != nil {
			logger.Warn().Err(err).Uint("notification_id", task.NotificationID).Msg("[Notifier] enqueue failed")
		}
	}
	box.tasks = nil
}
