package models

import "time"

// Assignment status values.
const (
	AssignmentPending  = "pending"
	AssignmentAccepted = "accepted"
	AssignmentRejected = "rejected"
)

// AgendaAssignment records one collaborator's invitation state on one agenda.
type AgendaAssignment struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	AgendaID        uint          `gorm:"uniqueIndex:idx_agenda_collaborator;not null" json:"agenda_id"`
	CollaboratorID  uint          `gorm:"uniqueIndex:idx_agenda_collaborator;not null" json:"collaborator_id"`
	Collaborator    *Collaborator `gorm:"foreignKey:CollaboratorID" json:"collaborator,omitempty"`
	Status          string        `gorm:"size:20;default:pending;not null" json:"status"`
	RejectionReason string        `gorm:"type:text" json:"rejection_reason"`
	Duty            string        `gorm:"type:text" json:"duty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (AgendaAssignment) TableName() string { return "agenda_assignments" }
