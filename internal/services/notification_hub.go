package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const userTopicPrefix = "notifications_"

// UserTopic is the realtime topic that carries one user's notifications.
func UserTopic(userID uint) string {
	return fmt.Sprintf("%s%d", userTopicPrefix, userID)
}

// Broadcaster publishes a payload to every subscriber of a topic. Publishing
// never blocks on slow subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type hubClient struct {
	topic string
	ch    chan []byte
}

// NotificationHub fans realtime payloads out to the SSE streams of this
// process, keyed by topic.
type NotificationHub struct {
	clients map[string]*hubClient
	mu      sync.RWMutex
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients: make(map[string]*hubClient),
	}
}

// Subscribe registers a stream for topic and returns its event channel.
func (h *NotificationHub) Subscribe(topic, clientID string) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []byte, 100)
	h.clients[clientID] = &hubClient{topic: topic, ch: ch}
	return ch
}

func (h *NotificationHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.ch)
		delete(h.clients, clientID)
	}
}

// Publish delivers payload to subscribers of topic. A full client buffer
// drops the event for that client.
func (h *NotificationHub) Publish(_ context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if c.topic != topic {
			continue
		}
		select {
		case c.ch <- payload:
		default:
			logger.Debug().Str("client_id", id).Str("topic", topic).Msg("[Hub] client buffer full, event dropped")
		}
	}
	return nil
}

func (h *NotificationHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var (
	globalHub *NotificationHub
	hubOnce   sync.Once
)

func GetNotificationHub() *NotificationHub {
	hubOnce.Do(func() {
		globalHub = NewNotificationHub()
	})
	return globalHub
}

// RedisBroadcaster publishes over Redis pub/sub so streams held by other
// instances receive the event. Each instance runs Relay into its local hub.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Relay forwards every user topic message from Redis into local until ctx
// is cancelled. ready, if non-nil, is closed once the subscription is live.
func (b *RedisBroadcaster) Relay(ctx context.Context, local Broadcaster, ready chan<- struct{}) error {
	sub := b.client.PSubscribe(ctx, userTopicPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Channel, userTopicPrefix) {
				continue
			}
			if err := local.Publish(ctx, msg.Channel, []byte(msg.Payload)); err != nil {
				logger.Warn().Err(err).Str("topic", msg.Channel).Msg("[Hub] relay publish failed")
			}
		}
	}
}

// NewRedisClient builds a go-redis client from the redis config section.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
