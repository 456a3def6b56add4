package models

import "time"

var ProjectColors = []string{"indigo", "purple", "pink", "red", "orange", "green", "teal", "cyan"}

const DefaultProjectColor = "indigo"

// Project groups agendas. Members are collaborators, joined through project_members.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Color       string         `gorm:"size:20;default:indigo" json:"color"`
	CreatedByID *uint          `gorm:"index" json:"created_by_id"`
	CreatedBy   *User          `gorm:"foreignKey:CreatedByID" json:"-"`
	Members     []Collaborator `gorm:"many2many:project_members;" json:"members,omitempty"`
	Agendas     []Agenda       `gorm:"foreignKey:ProjectID" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// HasMember reports whether the collaborator is a registered member.
func (p *Project) HasMember(collaboratorID uint) bool {
	for _, m := range p.Members {
		if m.ID == collaboratorID {
			return true
		}
	}
	return false
}

// IsValidProjectColor reports whether color is one of ProjectColors.
func IsValidProjectColor(color string) bool {
	for _, c := range ProjectColors {
		if c == color {
			return true
		}
	}
	return false
}
