package models

import "time"

// PushSubscription is a browser push endpoint registered by a user.
type PushSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Endpoint  string    `gorm:"uniqueIndex;size:500;not null" json:"endpoint"`
	P256dhKey string    `gorm:"size:255;not null" json:"p256dh_key"`
	AuthKey   string    `gorm:"size:255;not null" json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PushSubscription) TableName() string { return "push_subscriptions" }
