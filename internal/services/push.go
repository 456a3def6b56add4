package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/huangang/agendatrack/internal/config"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPushDisabled = errors.New("browser push is not configured")

// PushPayload is the JSON body the service worker receives.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	URL   string `json:"url"`
}

// PushSender delivers one payload to one subscription. The returned status
// is the push service's HTTP status, or 0 when no response was received.
type PushSender interface {
	Send(ctx context.Context, sub *models.PushSubscription, payload []byte) (int, error)
}

// IsGone reports whether a push status means the subscription no longer exists.
func IsGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// WebPushSender sends VAPID-signed web push messages.
type WebPushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	client     *http.Client
}

func NewWebPushSender(cfg *config.PushConfig) *WebPushSender {
	return &WebPushSender{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.Subscriber,
		ttl:        cfg.TTL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebPushSender) Enabled() bool {
	return s.publicKey != "" && s.privateKey != ""
}

func (s *WebPushSender) PublicKey() string {
	return s.publicKey
}

func (s *WebPushSender) Send(ctx context.Context, sub *models.PushSubscription, payload []byte) (int, error) {
	if !s.Enabled() {
		return 0, ErrPushDisabled
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// GenerateVAPIDKeys creates a new key pair for the push config section.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}

// SubscribeInput is the browser's PushSubscription JSON.
type SubscribeInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushSubscriptionService stores browser push registrations.
type PushSubscriptionService struct {
	db *gorm.DB
}

func NewPushSubscriptionService(db *gorm.DB) *PushSubscriptionService {
	return &PushSubscriptionService{db: db}
}

// Subscribe registers the endpoint for the user. An endpoint already on
// record is moved to this user with the new keys.
func (s *PushSubscriptionService) Subscribe(ctx context.Context, actor Actor, in SubscribeInput) (*models.PushSubscription, error) {
	in.Endpoint = strings.TrimSpace(in.Endpoint)
	if in.Endpoint == "" {
		return nil, response.NewFieldError("endpoint", "this field is required")
	}
	if in.Keys.P256dh == "" || in.Keys.Auth == "" {
		return nil, response.NewFieldError("keys", "p256dh and auth are required")
	}

	sub := models.PushSubscription{
		UserID:    actor.UserID,
		Endpoint:  in.Endpoint,
		P256dhKey: in.Keys.P256dh,
		AuthKey:   in.Keys.Auth,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh_key", "auth_key", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return nil, err
	}

	var saved models.PushSubscription
	if err := s.db.WithContext(ctx).Where("endpoint = ?", in.Endpoint).First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

// Unsubscribe removes the actor's registration for endpoint.
func (s *PushSubscriptionService) Unsubscribe(ctx context.Context, actor Actor, endpoint string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", actor.UserID, strings.TrimSpace(endpoint)).
		Delete(&models.PushSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return response.NewNotFound("subscription not found")
	}
	return nil
}
