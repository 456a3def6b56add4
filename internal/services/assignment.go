package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssigneeInput is one collaborator in an agenda's target collaborator set.
type AssigneeInput struct {
	CollaboratorID uint   `json:"collaborator_id"`
	Duty           string `json:"duty"`
}

type AssignmentService struct {
	db       *gorm.DB
	notifier *Notifier
}

func NewAssignmentService(db *gorm.DB, notifier *Notifier) *AssignmentService {
	return &AssignmentService{db: db, notifier: notifier}
}

// Accept moves the actor's pending assignment to accepted and tells the team
// leader. Accepting an accepted assignment is a no-op.
func (s *AssignmentService) Accept(ctx context.Context, actor Actor, agendaID uint) (*models.AgendaAssignment, error) {
	var result models.AgendaAssignment
	box := &outbox{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, as, err := loadOwnAssignment(tx, actor, agendaID)
		if err != nil {
			return err
		}

		switch as.Status {
		case models.AssignmentAccepted:
			result = *as
			return nil
		case models.AssignmentRejected:
			return response.NewBadRequest("a rejected invitation cannot be accepted")
		}

		as.Status = models.AssignmentAccepted
		if err := tx.Model(as).Update("status", as.Status).Error; err != nil {
			return err
		}
		result = *as

		if agenda.TeamLeader == nil || actor.IsCollaborator(agenda.TeamLeader.ID) {
			return nil
		}
		return box.notifyCollaborator(tx, agenda.TeamLeader, models.Notification{
			Title:            "Invitation Accepted",
			Message:          fmt.Sprintf("%s accepted the invitation to '%s'.", collaboratorName(as.Collaborator), agenda.Title),
			NotificationType: models.NotifyAssignmentAccepted,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}, Interactive)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Assignment] accepted")
	return &result, nil
}

// Reject moves the actor's pending assignment to rejected. The reason is
// mandatory and is forwarded to the team leader.
func (s *AssignmentService) Reject(ctx context.Context, actor Actor, agendaID uint, reason string) (*models.AgendaAssignment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, response.NewFieldError("rejection_reason", "a reason is required to decline an invitation")
	}

	var result models.AgendaAssignment
	box := &outbox{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, as, err := loadOwnAssignment(tx, actor, agendaID)
		if err != nil {
			return err
		}

		switch as.Status {
		case models.AssignmentRejected:
			result = *as
			return nil
		case models.AssignmentAccepted:
			return response.NewBadRequest("an accepted invitation cannot be declined")
		}

		as.Status = models.AssignmentRejected
		as.RejectionReason = reason
		if err := tx.Model(as).Updates(map[string]interface{}{
			"status":           as.Status,
			"rejection_reason": as.RejectionReason,
		}).Error; err != nil {
			return err
		}
		result = *as

		if agenda.TeamLeader == nil || actor.IsCollaborator(agenda.TeamLeader.ID) {
			return nil
		}
		return box.notifyCollaborator(tx, agenda.TeamLeader, models.Notification{
			Title:            "Invitation Declined",
			Message:          fmt.Sprintf("%s declined '%s'. Reason: %s", collaboratorName(as.Collaborator), agenda.Title, reason),
			NotificationType: models.NotifyAssignmentRejected,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}, Interactive)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Assignment] rejected")
	return &result, nil
}

// loadOwnAssignment locks and returns the actor's assignment on the agenda.
func loadOwnAssignment(tx *gorm.DB, actor Actor, agendaID uint) (*models.Agenda, *models.AgendaAssignment, error) {
	var agenda models.Agenda
	if err := tx.Preload("TeamLeader").First(&agenda, agendaID).Error; err != nil {
		return nil, nil, response.NotFoundOr(err, "agenda")
	}
	if !actor.HasProfile() {
		return nil, nil, response.NewNotFound("assignment not found")
	}

	var as models.AgendaAssignment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Collaborator").
		Where("agenda_id = ? AND collaborator_id = ?", agendaID, *actor.CollaboratorID).
		First(&as).Error
	if err != nil {
		return nil, nil, response.NotFoundOr(err, "assignment")
	}
	return &agenda, &as, nil
}

// invitation describes the notification sent to a newly invited collaborator.
func invitation(agenda *models.Agenda, asLeader bool) (title, message, kind string) {
	if agenda.Type == models.AgendaTypeMeeting {
		title, kind = "New Meeting Invite", models.NotifyMeetingInvite
		message = fmt.Sprintf("You've been invited to the meeting: '%s'.", agenda.Title)
	} else {
		title, kind = "New Assignment", models.NotifyCollaboratorAdded
		message = fmt.Sprintf("You've been assigned to the initiative: '%s'.", agenda.Title)
	}
	if asLeader {
		message = fmt.Sprintf("You've been appointed team leader for '%s'.", agenda.Title)
	}
	return title, message, kind
}

// invite creates a pending assignment and queues the invitation notification
// with the email channel.
func invite(tx *gorm.DB, box *outbox, agenda *models.Agenda, collabID uint, duty string, asLeader bool) error {
	as := models.AgendaAssignment{
		AgendaID:       agenda.ID,
		CollaboratorID: collabID,
		Status:         models.AssignmentPending,
		Duty:           duty,
	}
	if err := tx.Create(&as).Error; err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}

	var collab models.Collaborator
	if err := tx.Preload("User").First(&collab, collabID).Error; err != nil {
		return response.NotFoundOr(err, "collaborator")
	}

	title, message, kind := invitation(agenda, asLeader)
	ch := Interactive
	ch.Email = &EmailContent{
		To:            collaboratorEmail(&collab),
		RecipientName: collab.Name,
		Duty:          duty,
		Leader:        asLeader,
	}
	return box.notifyCollaborator(tx, &collab, models.Notification{
		Title:            title,
		Message:          message,
		NotificationType: kind,
		RelatedAgendaID:  &agenda.ID,
		RelatedProjectID: agenda.ProjectID,
	}, ch)
}

// upsertAccepted makes sure the collaborator holds an accepted assignment.
func upsertAccepted(tx *gorm.DB, agendaID, collabID uint, duty string) error {
	as := models.AgendaAssignment{
		AgendaID:       agendaID,
		CollaboratorID: collabID,
		Status:         models.AssignmentAccepted,
		Duty:           duty,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agenda_id"}, {Name: "collaborator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&as).Error
}

// seedAssignments creates the initial assignment rows of a new agenda: the
// creator accepted, the leader and every other invitee pending with an
// invitation. The creator is never notified.
func seedAssignments(tx *gorm.DB, box *outbox, agenda *models.Agenda, creatorCollab *uint, invitees []AssigneeInput) error {
	duties := dutyIndex(invitees)

	if creatorCollab != nil {
		if err := upsertAccepted(tx, agenda.ID, *creatorCollab, duties[*creatorCollab]); err != nil {
			return fmt.Errorf("seed creator assignment: %w", err)
		}
	}

	seen := map[uint]bool{}
	if creatorCollab != nil {
		seen[*creatorCollab] = true
	}

	if agenda.TeamLeaderID != nil && !seen[*agenda.TeamLeaderID] {
		leaderID := *agenda.TeamLeaderID
		if err := invite(tx, box, agenda, leaderID, duties[leaderID], true); err != nil {
			return err
		}
		seen[leaderID] = true
	}

	for _, in := range invitees {
		if seen[in.CollaboratorID] {
			continue
		}
		if err := invite(tx, box, agenda, in.CollaboratorID, in.Duty, false); err != nil {
			return err
		}
		seen[in.CollaboratorID] = true
	}
	return nil
}

// syncAssignments reconciles the agenda's assignments with a new target
// collaborator set. agenda.Assignments must hold the rows before the update
// and agenda.TeamLeaderID the leader after it.
//
// A nil target keeps the current set and only checks the leader's row. Rows
// of collaborators dropped from the set are deleted unless they belong to
// the creator or the current leader. New collaborators, and collaborators
// whose previous row was rejected, get a fresh pending row and an invitation.
func syncAssignments(tx *gorm.DB, box *outbox, agenda *models.Agenda, creatorCollab *uint, target []AssigneeInput, leaderChanged bool) error {
	protected := map[uint]bool{}
	if creatorCollab != nil {
		protected[*creatorCollab] = true
	}
	if agenda.TeamLeaderID != nil {
		protected[*agenda.TeamLeaderID] = true
	}

	wanted := dutyIndex(target)
	existing := map[uint]*models.AgendaAssignment{}
	for i := range agenda.Assignments {
		existing[agenda.Assignments[i].CollaboratorID] = &agenda.Assignments[i]
	}

	for collabID, as := range existing {
		if target == nil {
			break
		}
		if _, keep := wanted[collabID]; keep || protected[collabID] {
			continue
		}
		if err := tx.Delete(&models.AgendaAssignment{}, as.ID).Error; err != nil {
			return fmt.Errorf("remove assignment: %w", err)
		}
		delete(existing, collabID)
	}

	for _, in := range target {
		as, ok := existing[in.CollaboratorID]
		switch {
		case ok && as.Status == models.AssignmentRejected:
			if err := tx.Delete(&models.AgendaAssignment{}, as.ID).Error; err != nil {
				return fmt.Errorf("supersede rejected assignment: %w", err)
			}
			delete(existing, in.CollaboratorID)
		case ok:
			if in.Duty != as.Duty {
				if err := tx.Model(as).Update("duty", in.Duty).Error; err != nil {
					return err
				}
			}
			continue
		}
		if creatorCollab != nil && in.CollaboratorID == *creatorCollab {
			if err := upsertAccepted(tx, agenda.ID, in.CollaboratorID, in.Duty); err != nil {
				return err
			}
		} else if err := invite(tx, box, agenda, in.CollaboratorID, in.Duty, leaderChanged && isLeader(agenda, in.CollaboratorID)); err != nil {
			return err
		}
		existing[in.CollaboratorID] = &models.AgendaAssignment{CollaboratorID: in.CollaboratorID}
	}

	if leaderChanged && agenda.TeamLeaderID != nil {
		if _, ok := existing[*agenda.TeamLeaderID]; !ok {
			if err := invite(tx, box, agenda, *agenda.TeamLeaderID, wanted[*agenda.TeamLeaderID], true); err != nil {
				return err
			}
		}
	}
	return nil
}

func isLeader(agenda *models.Agenda, collabID uint) bool {
	return agenda.TeamLeaderID != nil && *agenda.TeamLeaderID == collabID
}

func dutyIndex(in []AssigneeInput) map[uint]string {
	m := make(map[uint]string, len(in))
	for _, a := range in {
		m[a.CollaboratorID] = a.Duty
	}
	return m
}

func collaboratorName(c *models.Collaborator) string {
	if c == nil {
		return "A collaborator"
	}
	return c.Name
}

func collaboratorEmail(c *models.Collaborator) string {
	if c.Email != "" {
		return c.Email
	}
	if c.User != nil {
		return c.User.Email
	}
	return ""
}
