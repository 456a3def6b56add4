package models

import "time"

// Collaborator is a person profile. UserID is nil for placeholder profiles
// that have not been linked to a login yet.
type Collaborator struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         *uint     `gorm:"uniqueIndex" json:"user_id"`
	User           *User     `gorm:"foreignKey:UserID" json:"-"`
	Name           string    `gorm:"size:200;not null" json:"name"`
	Institute      string    `gorm:"size:200" json:"institute"`
	Address        string    `gorm:"type:text" json:"address"`
	Email          string    `gorm:"size:255" json:"email"`
	WhatsappNumber string    `gorm:"size:20" json:"whatsapp_number"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Collaborator) TableName() string { return "collaborators" }
