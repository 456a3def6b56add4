package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/agendatrack/internal/config"
	"github.com/huangang/agendatrack/pkg/logger"
)

const (
	TaskTypeDelivery = "notification:deliver"
)

// EmailContent asks the delivery worker to also send an invitation email.
type EmailContent struct {
	To            string `json:"to"`
	RecipientName string `json:"recipient_name"`
	Duty          string `json:"duty,omitempty"`
	Leader        bool   `json:"leader,omitempty"`
}

// DeliveryTask is one committed notification waiting for fan-out.
type DeliveryTask struct {
	NotificationID uint          `json:"notification_id"`
	Realtime       bool          `json:"realtime"`
	Push           bool          `json:"push"`
	Email          *EmailContent `json:"email,omitempty"`
}

// DeliveryQueue decouples business operations from notification delivery.
type DeliveryQueue interface {
	// Enqueue hands a task over without waiting for delivery
	Enqueue(task *DeliveryTask) error
	// IsAsync returns true if tasks are processed by a separate worker
	IsAsync() bool
	Close() error
}

var (
	globalDeliveryQueue DeliveryQueue
	deliveryQueueOnce   sync.Once
)

// InitDeliveryQueue picks the asynq queue when Redis is enabled and
// reachable, the in-process queue otherwise.
func InitDeliveryQueue(cfg *config.Config) DeliveryQueue {
	deliveryQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[DeliveryQueue] Redis unavailable, falling back to in-process delivery: %v", err)
				globalDeliveryQueue = NewSyncQueue()
			} else {
				logger.Infof("[DeliveryQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalDeliveryQueue = queue
			}
		} else {
			logger.Infof("[DeliveryQueue] In-process queue initialized (Redis disabled)")
			globalDeliveryQueue = NewSyncQueue()
		}
	})
	return globalDeliveryQueue
}

// AsyncQueue implements DeliveryQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAsyncQueue connects to Redis and verifies the connection.
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *DeliveryTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeDelivery, payload),
		asynq.Queue("notifications"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Uint("notification_id", task.NotificationID).Msg("[AsyncQueue] delivery enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue delivers in a background goroutine of the same process.
type SyncQueue struct {
	processor func(context.Context, *DeliveryTask) error
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *DeliveryTask) error) {
	q.processor = processor
}

// Enqueue returns immediately; the task runs on its own goroutine.
func (q *SyncQueue) Enqueue(task *DeliveryTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, delivery of notification %d dropped", task.NotificationID)
		return nil
	}

	t := *task
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), &t); err != nil {
			logger.Warn().Err(err).Uint("notification_id", t.NotificationID).Msg("[SyncQueue] delivery failed")
		}
	}()

	return nil
}

// Wait blocks until every enqueued task has finished.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight deliveries.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
