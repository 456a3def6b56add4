package models

import "time"

// Notification types.
const (
	NotifyStagnation         = "stagnation"
	NotifyTimeElapsedWarning = "time_elapsed_warning"
	NotifyDeadlineWarning    = "deadline_warning"
	NotifyAgendaOverdue      = "agenda_overdue"
	NotifyCollaboratorAdded  = "collaborator_added"
	NotifyMeetingInvite      = "meeting_invite"
	NotifyAgendaUpdated      = "agenda_updated"
	NotifyMeetingUpdated     = "meeting_updated"
	NotifyStatusChange       = "status_change"
	NotifyAssignmentAccepted = "assignment_accepted"
	NotifyAssignmentRejected = "assignment_rejected"
	NotifyExtensionRequested = "extension_requested"
	NotifyExtensionApproved  = "extension_approved"
	NotifyExtensionRejected  = "extension_rejected"
	NotifyExtensionApplied   = "extension_applied"
	NotifyProjectCreated     = "project_created"
)

var NotificationTypes = []string{
	NotifyStagnation, NotifyTimeElapsedWarning, NotifyDeadlineWarning, NotifyAgendaOverdue,
	NotifyCollaboratorAdded, NotifyMeetingInvite, NotifyAgendaUpdated, NotifyMeetingUpdated,
	NotifyStatusChange, NotifyAssignmentAccepted, NotifyAssignmentRejected,
	NotifyExtensionRequested, NotifyExtensionApproved, NotifyExtensionRejected,
	NotifyExtensionApplied, NotifyProjectCreated,
}

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index:idx_notification_dedup,priority:1;not null" json:"user_id"`
	Title            string    `gorm:"size:200;not null" json:"title"`
	Message          string    `gorm:"type:text" json:"message"`
	NotificationType string    `gorm:"size:40;index:idx_notification_dedup,priority:3;not null" json:"notification_type"`
	RelatedAgendaID  *uint     `gorm:"index:idx_notification_dedup,priority:2" json:"related_agenda_id"`
	RelatedAgenda    *Agenda   `gorm:"foreignKey:RelatedAgendaID;constraint:OnDelete:SET NULL" json:"related_agenda,omitempty"`
	RelatedProjectID *uint     `json:"related_project_id"`
	RelatedProject   *Project  `gorm:"foreignKey:RelatedProjectID;constraint:OnDelete:SET NULL" json:"related_project,omitempty"`
	IsRead           bool      `gorm:"index" json:"is_read"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// IsValidNotificationType reports whether t belongs to the closed type set.
func IsValidNotificationType(t string) bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}
