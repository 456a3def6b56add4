package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is an authentication principal. Self-registered users stay inactive
// until a superuser approves them.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:150;not null" json:"username"`
	Password     string         `gorm:"size:255" json:"-"` // Hashed password, empty for LDAP users
	Email        string         `gorm:"size:255" json:"email"`
	FirstName    string         `gorm:"size:150" json:"first_name"`
	LastName     string         `gorm:"size:150" json:"last_name"`
	IsSuperuser  bool           `json:"is_superuser"`
	IsActive     bool           `json:"is_active"`
	AuthType     string         `gorm:"size:20;default:local" json:"auth_type"` // local, ldap
	LastLogin    *time.Time     `json:"last_login"`
	Collaborator *Collaborator  `gorm:"foreignKey:UserID" json:"collaborator,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// DisplayName prefers the full name and falls back to the username.
func (u *User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}
