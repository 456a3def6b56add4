package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/huangang/agendatrack/internal/config"
)

func TestNewWorker_DisabledRedis(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}); w != nil {
		t.Error("worker should be nil without Redis")
	}
}

func TestWorker_HandleDeliveryTask(t *testing.T) {
	var got []DeliveryTask
	w := &Worker{}
	w.SetProcessor(func(_ context.Context, task *DeliveryTask) error {
		got = append(got, *task)
		return nil
	})

	payload, _ := json.Marshal(DeliveryTask{NotificationID: 7, Realtime: true})
	if err := w.handleDeliveryTask(context.Background(), asynq.NewTask(TaskTypeDelivery, payload)); err != nil {
		t.Fatalf("handleDeliveryTask: %v", err)
	}
	if len(got) != 1 || got[0].NotificationID != 7 || !got[0].Realtime || got[0].Push {
		t.Errorf("processor saw %+v", got)
	}

	err := w.handleDeliveryTask(context.Background(), asynq.NewTask(TaskTypeDelivery, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should skip retries, got %v", err)
	}
	if len(got) != 1 {
		t.Error("malformed payload should not reach the processor")
	}
}

func TestWorker_ProcessorErrorIsRetried(t *testing.T) {
	boom := errors.New("smtp down")
	w := &Worker{}
	w.SetProcessor(func(context.Context, *DeliveryTask) error { return boom })

	payload, _ := json.Marshal(DeliveryTask{NotificationID: 1})
	if err := w.handleDeliveryTask(context.Background(), asynq.NewTask(TaskTypeDelivery, payload)); !errors.Is(err, boom) {
		t.Errorf("processor error should propagate for retry, got %v", err)
	}
}
