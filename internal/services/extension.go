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

// Extension actions accepted by Extend from approvers.
const (
	ExtensionActionApprove = "approve"
	ExtensionActionReject  = "reject"
)

// ExtensionInput is the body of an extend-time call.
type ExtensionInput struct {
	Action        string `json:"action"`
	NewFinishDate string `json:"new_finish_date"`
	NewFinishTime string `json:"new_finish_time"`
	Reason        string `json:"reason"`
}

type ExtensionService struct {
	db       *gorm.DB
	notifier *Notifier
}

func NewExtensionService(db *gorm.DB, notifier *Notifier) *ExtensionService {
	return &ExtensionService{db: db, notifier: notifier}
}

// IsApprover reports whether actor may apply or decide extensions: a
// superuser or the agenda's team leader.
func IsApprover(actor Actor, agenda *models.Agenda) bool {
	if actor.IsSuperuser {
		return true
	}
	return actor.HasProfile() && agenda.IsLeader(*actor.CollaboratorID)
}

// IsRequester reports whether actor may ask for an extension: a non-approver
// holding a non-rejected assignment. Assignments must be loaded.
func IsRequester(actor Actor, agenda *models.Agenda) bool {
	if IsApprover(actor, agenda) || !actor.HasProfile() {
		return false
	}
	as := agenda.AssignmentFor(*actor.CollaboratorID)
	return as != nil && as.Status != models.AssignmentRejected
}

// Extend routes an extend-time call: approvers apply directly unless they
// name an action, everyone else files a request.
func (s *ExtensionService) Extend(ctx context.Context, actor Actor, agendaID uint, in ExtensionInput) (*models.Agenda, error) {
	var agenda models.Agenda
	if err := s.db.WithContext(ctx).Preload("Assignments").First(&agenda, agendaID).Error; err != nil {
		return nil, response.NotFoundOr(err, "agenda")
	}
	if !agenda.HasExtensionsLeft() {
		return nil, errExtensionUsed()
	}

	if !IsApprover(actor, &agenda) {
		return s.RequestExtension(ctx, actor, agendaID, in.NewFinishDate, in.NewFinishTime, in.Reason)
	}
	switch strings.ToLower(strings.TrimSpace(in.Action)) {
	case "":
		return s.DirectExtend(ctx, actor, agendaID, in.NewFinishDate, in.NewFinishTime)
	case ExtensionActionApprove:
		return s.ApproveExtension(ctx, actor, agendaID)
	case ExtensionActionReject:
		return s.RejectExtension(ctx, actor, agendaID, in.Reason)
	default:
		return nil, response.NewFieldError("action", fmt.Sprintf("unknown action %q", in.Action))
	}
}

// DirectExtend applies a new deadline immediately. Approvers only.
func (s *ExtensionService) DirectExtend(ctx context.Context, actor Actor, agendaID uint, date, clock string) (*models.Agenda, error) {
	box := &outbox{}
	var out models.Agenda

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, err := lockAgendaForExtension(tx, agendaID)
		if err != nil {
			return err
		}
		if !IsApprover(actor, agenda) {
			return response.NewForbidden("only a superuser or the team leader can extend directly")
		}
		if err := validateNewDeadline(agenda, date, clock); err != nil {
			return err
		}
		if err := applyExtension(tx, agenda, date, clock); err != nil {
			return err
		}

		if agenda.TeamLeader != nil && !actor.IsCollaborator(agenda.TeamLeader.ID) {
			if err := box.notifyCollaborator(tx, agenda.TeamLeader, models.Notification{
				Title:            "Deadline Extended",
				Message:          fmt.Sprintf("The deadline of '%s' was extended to %s.", agenda.Title, formatDeadline(agenda.ExpectedFinishDate, agenda.ExpectedFinishTime)),
				NotificationType: models.NotifyExtensionApplied,
				RelatedAgendaID:  &agenda.ID,
				RelatedProjectID: agenda.ProjectID,
			}, Interactive); err != nil {
				return err
			}
		}
		out = *agenda
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Extension] applied directly")
	return &out, nil
}

// RequestExtension files a pending request for the team leader to decide.
func (s *ExtensionService) RequestExtension(ctx context.Context, actor Actor, agendaID uint, date, clock, reason string) (*models.Agenda, error) {
	box := &outbox{}
	var out models.Agenda

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, err := lockAgendaForExtension(tx, agendaID)
		if err != nil {
			return err
		}
		if !IsRequester(actor, agenda) {
			return response.NewForbidden("you are not assigned to this agenda")
		}
		if agenda.ExtensionStatus == models.ExtensionPending {
			return response.NewBadRequest("an extension request is already pending")
		}
		if err := validateNewDeadline(agenda, date, clock); err != nil {
			return err
		}

		reason = strings.TrimSpace(reason)
		updates := map[string]interface{}{
			"extension_status":          models.ExtensionPending,
			"requested_finish_date":     date,
			"requested_finish_time":     clock,
			"extension_requested_by_id": *actor.CollaboratorID,
			"extension_reason":          reason,
		}
		if err := tx.Model(agenda).Updates(updates).Error; err != nil {
			return err
		}

		requester := collaboratorName(assignmentCollaborator(agenda, *actor.CollaboratorID))
		msg := fmt.Sprintf("%s requested to extend '%s' to %s.", requester, agenda.Title, formatDeadline(date, clock))
		if reason != "" {
			msg += " Reason: " + reason
		}
		note := models.Notification{
			Title:            "Extension Requested",
			Message:          msg,
			NotificationType: models.NotifyExtensionRequested,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}
		if agenda.TeamLeader != nil && agenda.TeamLeader.UserID != nil {
			if err := box.notifyCollaborator(tx, agenda.TeamLeader, note, Interactive); err != nil {
				return err
			}
		} else if err := notifySuperusers(tx, box, note); err != nil {
			return err
		}

		out = *agenda
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Extension] requested")
	return s.reload(ctx, out.ID)
}

// ApproveExtension applies the pending request's date and time.
func (s *ExtensionService) ApproveExtension(ctx context.Context, actor Actor, agendaID uint) (*models.Agenda, error) {
	box := &outbox{}
	var out models.Agenda

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, err := lockAgendaForExtension(tx, agendaID)
		if err != nil {
			return err
		}
		if !IsApprover(actor, agenda) {
			return response.NewForbidden("only a superuser or the team leader can approve extensions")
		}
		if agenda.ExtensionStatus != models.ExtensionPending {
			return response.NewBadRequest("there is no pending extension request")
		}

		requesterID := agenda.ExtensionRequestedByID
		if err := applyExtension(tx, agenda, agenda.RequestedFinishDate, agenda.RequestedFinishTime); err != nil {
			return err
		}

		if err := notifyRequester(tx, box, requesterID, models.Notification{
			Title:            "Extension Approved",
			Message:          fmt.Sprintf("Your extension for '%s' was approved. New deadline: %s.", agenda.Title, formatDeadline(agenda.ExpectedFinishDate, agenda.ExpectedFinishTime)),
			NotificationType: models.NotifyExtensionApproved,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}); err != nil {
			return err
		}
		out = *agenda
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Extension] approved")
	return &out, nil
}

// RejectExtension discards the pending request. The reason is optional.
func (s *ExtensionService) RejectExtension(ctx context.Context, actor Actor, agendaID uint, reason string) (*models.Agenda, error) {
	box := &outbox{}
	var out models.Agenda

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agenda, err := lockAgendaForExtension(tx, agendaID)
		if err != nil {
			return err
		}
		if !IsApprover(actor, agenda) {
			return response.NewForbidden("only a superuser or the team leader can reject extensions")
		}
		if agenda.ExtensionStatus != models.ExtensionPending {
			return response.NewBadRequest("there is no pending extension request")
		}

		requesterID := agenda.ExtensionRequestedByID
		if err := tx.Model(agenda).Updates(map[string]interface{}{
			"extension_status":      models.ExtensionRejected,
			"requested_finish_date": "",
			"requested_finish_time": "",
		}).Error; err != nil {
			return err
		}

		msg := fmt.Sprintf("Your extension request for '%s' was declined.", agenda.Title)
		if r := strings.TrimSpace(reason); r != "" {
			msg += " Reason: " + r
		}
		if err := notifyRequester(tx, box, requesterID, models.Notification{
			Title:            "Extension Declined",
			Message:          msg,
			NotificationType: models.NotifyExtensionRejected,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}); err != nil {
			return err
		}
		out = *agenda
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agendaID).Uint("user_id", actor.UserID).Msg("[Extension] rejected")
	return s.reload(ctx, out.ID)
}

func (s *ExtensionService) reload(ctx context.Context, id uint) (*models.Agenda, error) {
	var agenda models.Agenda
	if err := preloadAgenda(s.db.WithContext(ctx)).First(&agenda, id).Error; err != nil {
		return nil, response.NotFoundOr(err, "agenda")
	}
	return &agenda, nil
}

// lockAgendaForExtension loads the agenda under a row lock and enforces the
// one-extension limit before anything else is checked.
func lockAgendaForExtension(tx *gorm.DB, agendaID uint) (*models.Agenda, error) {
	var agenda models.Agenda
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("TeamLeader").
		Preload("Assignments.Collaborator").
		First(&agenda, agendaID).Error
	if err != nil {
		return nil, response.NotFoundOr(err, "agenda")
	}
	if !agenda.HasExtensionsLeft() {
		return nil, errExtensionUsed()
	}
	return &agenda, nil
}

// applyExtension moves the deadline. The update only matches while
// extension_count is still zero, so of two racing approvals one fails.
func applyExtension(tx *gorm.DB, agenda *models.Agenda, date, clock string) error {
	if clock == "" {
		clock = agenda.ExpectedFinishTime
	}

	updates := map[string]interface{}{
		"expected_finish_date":  date,
		"expected_finish_time":  clock,
		"was_missed":            true,
		"extension_count":       gorm.Expr("extension_count + ?", 1),
		"extension_status":      models.ExtensionApproved,
		"requested_finish_date": "",
		"requested_finish_time": "",
	}
	if agenda.OriginalDeadlineDate == "" {
		origDate, origTime := agenda.Deadline()
		updates["original_deadline_date"] = origDate
		updates["original_deadline_time"] = origTime
	}

	res := tx.Model(&models.Agenda{}).
		Where("id = ? AND extension_count < ?", agenda.ID, models.MaxExtensions).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("apply extension: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errExtensionUsed()
	}
	return tx.First(agenda, agenda.ID).Error
}

func validateNewDeadline(agenda *models.Agenda, date, clock string) error {
	if strings.TrimSpace(date) == "" {
		return response.NewFieldError("new_finish_date", "this field is required")
	}
	if !models.ValidDate(date) {
		return response.NewFieldError("new_finish_date", "expected YYYY-MM-DD")
	}
	if clock != "" && !models.ValidClock(clock) {
		return response.NewFieldError("new_finish_time", "expected HH:MM")
	}
	if date < agenda.Date {
		return response.NewFieldError("new_finish_date", "must not be before the start date")
	}
	return nil
}

func notifyRequester(tx *gorm.DB, box *outbox, requesterID *uint, n models.Notification) error {
	if requesterID == nil {
		return nil
	}
	var collab models.Collaborator
	if err := tx.First(&collab, *requesterID).Error; err != nil {
		logger.Warn().Err(err).Uint("collaborator_id", *requesterID).Msg("[Extension] requester not found")
		return nil
	}
	return box.notifyCollaborator(tx, &collab, n, Interactive)
}

func notifySuperusers(tx *gorm.DB, box *outbox, n models.Notification) error {
	var ids []uint
	if err := tx.Model(&models.User{}).Where("is_superuser = ? AND is_active = ?", true, true).Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		note := n
		note.UserID = id
		if err := box.notify(tx, &note, Interactive); err != nil {
			return err
		}
	}
	return nil
}

func assignmentCollaborator(agenda *models.Agenda, collabID uint) *models.Collaborator {
	if as := agenda.AssignmentFor(collabID); as != nil {
		return as.Collaborator
	}
	return nil
}

func formatDeadline(date, clock string) string {
	if clock == "" {
		return date
	}
	return date + " " + clock
}

func errExtensionUsed() error {
	return response.NewConflict("this agenda has already been extended once; no further extensions are allowed")
}
