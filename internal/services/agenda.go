package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
)

// CreateAgendaRequest is the input for a new agenda. A nil TeamLeaderID
// defaults to the creator's collaborator profile.
type CreateAgendaRequest struct {
	ProjectID          *uint           `json:"project_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	ExternalLink       string          `json:"external_link"`
	Date               string          `json:"date"`
	Time               string          `json:"time"`
	ExpectedFinishDate string          `json:"expected_finish_date"`
	ExpectedFinishTime string          `json:"expected_finish_time"`
	Status             string          `json:"status"`
	Priority           string          `json:"priority"`
	Type               string          `json:"type"`
	Category           string          `json:"category"`
	TeamLeaderID       *uint           `json:"team_leader_id"`
	Collaborators      []AssigneeInput `json:"collaborators"`
}

// UpdateAgendaRequest is a partial update. A nil Collaborators keeps the
// current collaborator set; an empty list clears it.
type UpdateAgendaRequest struct {
	ProjectID          *uint            `json:"project_id"`
	Title              *string          `json:"title"`
	Description        *string          `json:"description"`
	ExternalLink       *string          `json:"external_link"`
	Date               *string          `json:"date"`
	Time               *string          `json:"time"`
	ExpectedFinishDate *string          `json:"expected_finish_date"`
	ExpectedFinishTime *string          `json:"expected_finish_time"`
	Status             *string          `json:"status"`
	Priority           *string          `json:"priority"`
	Type               *string          `json:"type"`
	Category           *string          `json:"category"`
	TeamLeaderID       *uint            `json:"team_leader_id"`
	Collaborators      *[]AssigneeInput `json:"collaborators"`
}

// AgendaFilter narrows List. Zero values mean "any".
type AgendaFilter struct {
	Status    string
	ProjectID uint
	Type      string
	Priority  string
	Category  string
	DateFrom  string
	DateTo    string
}

type AgendaService struct {
	db       *gorm.DB
	notifier *Notifier
	loc      *time.Location
	now      Clock
}

func NewAgendaService(db *gorm.DB, notifier *Notifier, loc *time.Location) *AgendaService {
	if loc == nil {
		loc = time.UTC
	}
	return &AgendaService{db: db, notifier: notifier, loc: loc, now: time.Now}
}

func (s *AgendaService) SetClock(c Clock) { s.now = c }

// Projector renders agendas with the service's zone and clock.
func (s *AgendaService) Projector() Projector { return NewProjector(s.loc, s.now) }

// CanEdit reports whether the actor may update or delete the agenda.
func CanEdit(actor Actor, agenda *models.Agenda) bool {
	return actor.IsSuperuser || agenda.IsCreator(actor.UserID) || IsApprover(actor, agenda)
}

func (s *AgendaService) Create(ctx context.Context, actor Actor, req *CreateAgendaRequest) (*models.Agenda, error) {
	if !actor.IsSuperuser && !actor.HasProfile() {
		return nil, response.NewForbidden("a collaborator profile is required to create agendas")
	}

	agenda := &models.Agenda{
		ProjectID:          req.ProjectID,
		Title:              strings.TrimSpace(req.Title),
		Description:        req.Description,
		ExternalLink:       req.ExternalLink,
		Date:               req.Date,
		Time:               req.Time,
		ExpectedFinishDate: req.ExpectedFinishDate,
		ExpectedFinishTime: req.ExpectedFinishTime,
		Status:             defaultString(req.Status, models.AgendaStatusPending),
		Priority:           defaultString(req.Priority, models.PriorityMedium),
		Type:               defaultString(req.Type, models.AgendaTypeTask),
		Category:           req.Category,
		CreatedByID:        uintPtr(actor.UserID),
		TeamLeaderID:       req.TeamLeaderID,
		ExtensionStatus:    models.ExtensionNone,
	}
	if agenda.TeamLeaderID == nil {
		agenda.TeamLeaderID = actor.CollaboratorID
	}
	if err := validateAgenda(agenda); err != nil {
		return nil, err
	}

	box := &outbox{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkProjectAccess(tx, actor, agenda.ProjectID); err != nil {
			return err
		}
		members, err := loadCollaborators(tx, agenda.TeamLeaderID, req.Collaborators)
		if err != nil {
			return err
		}
		if err := tx.Omit("Collaborators", "Assignments").Create(agenda).Error; err != nil {
			return fmt.Errorf("create agenda: %w", err)
		}
		if err := tx.Model(agenda).Association("Collaborators").Replace(members); err != nil {
			return fmt.Errorf("link collaborators: %w", err)
		}
		return seedAssignments(tx, box, agenda, actor.CollaboratorID, req.Collaborators)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", agenda.ID).Uint("user_id", actor.UserID).Msg("[Agenda] created")
	return s.load(ctx, agenda.ID)
}

// Get returns the agenda when it is visible to the actor. Invisible agendas
// are reported as missing.
func (s *AgendaService) Get(ctx context.Context, actor Actor, id uint) (*models.Agenda, error) {
	agenda, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !AgendaVisibleTo(actor, agenda) {
		return nil, response.NewNotFound("agenda not found")
	}
	return agenda, nil
}

func (s *AgendaService) List(ctx context.Context, actor Actor, f AgendaFilter) ([]models.Agenda, error) {
	agendas, err := VisibleAgendas(s.db.WithContext(ctx), actor, func(q *gorm.DB) *gorm.DB {
		if f.Status != "" {
			q = q.Where("agendas.status = ?", f.Status)
		}
		if f.ProjectID != 0 {
			q = q.Where("agendas.project_id = ?", f.ProjectID)
		}
		if f.Type != "" {
			q = q.Where("agendas.type = ?", f.Type)
		}
		if f.Priority != "" {
			q = q.Where("agendas.priority = ?", f.Priority)
		}
		if f.DateFrom != "" {
			q = q.Where("agendas.date >= ?", f.DateFrom)
		}
		if f.DateTo != "" {
			q = q.Where("agendas.date <= ?", f.DateTo)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	if f.Category == "" {
		return agendas, nil
	}
	// Category may be calculated, so it is filtered after loading.
	out := agendas[:0]
	for _, a := range agendas {
		if a.EffectiveCategory() == f.Category {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *AgendaService) Update(ctx context.Context, actor Actor, id uint, req *UpdateAgendaRequest) (*models.Agenda, error) {
	box := &outbox{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agenda models.Agenda
		if err := preloadAgenda(tx).First(&agenda, id).Error; err != nil {
			return response.NotFoundOr(err, "agenda")
		}
		if !CanEdit(actor, &agenda) {
			return response.NewForbidden("only the creator, the team leader or a superuser can edit this agenda")
		}

		oldLeader := agenda.TeamLeaderID
		applyAgendaUpdate(&agenda, req)
		if err := validateAgenda(&agenda); err != nil {
			return err
		}
		if req.ProjectID != nil {
			if err := checkProjectAccess(tx, actor, agenda.ProjectID); err != nil {
				return err
			}
		}
		leaderChanged := !sameID(oldLeader, agenda.TeamLeaderID)

		var target []AssigneeInput
		if req.Collaborators != nil {
			target = *req.Collaborators
			if target == nil {
				target = []AssigneeInput{}
			}
		}
		members, err := loadCollaborators(tx, agenda.TeamLeaderID, target)
		if err != nil {
			return err
		}

		if err := tx.Model(&agenda).Select(agendaEditableColumns).Updates(&agenda).Error; err != nil {
			return fmt.Errorf("update agenda: %w", err)
		}
		if req.Collaborators != nil {
			if err := tx.Model(&agenda).Association("Collaborators").Replace(members); err != nil {
				return fmt.Errorf("link collaborators: %w", err)
			}
		}

		// Assignees that keep their row after the sync hear about the edit.
		previous := map[uint]models.AgendaAssignment{}
		for _, as := range agenda.Assignments {
			previous[as.CollaboratorID] = as
		}
		var creatorCollab *uint
		if agenda.CreatedBy != nil && agenda.CreatedBy.Collaborator != nil {
			creatorCollab = uintPtr(agenda.CreatedBy.Collaborator.ID)
		} else if agenda.IsCreator(actor.UserID) {
			creatorCollab = actor.CollaboratorID
		}
		if err := syncAssignments(tx, box, &agenda, creatorCollab, target, leaderChanged); err != nil {
			return err
		}

		var current []models.AgendaAssignment
		if err := tx.Preload("Collaborator").Where("agenda_id = ?", agenda.ID).Find(&current).Error; err != nil {
			return err
		}
		title, kind := "Task Update", models.NotifyAgendaUpdated
		if agenda.Type == models.AgendaTypeMeeting {
			title, kind = "Meeting Updated", models.NotifyMeetingUpdated
		}
		for i := range current {
			as := &current[i]
			prev, existed := previous[as.CollaboratorID]
			if !existed || prev.Status == models.AssignmentRejected || as.Status == models.AssignmentRejected {
				continue
			}
			if actor.IsCollaborator(as.CollaboratorID) {
				continue
			}
			if err := box.notifyCollaborator(tx, as.Collaborator, models.Notification{
				Title:            title,
				Message:          fmt.Sprintf("'%s' has been updated.", agenda.Title),
				NotificationType: kind,
				RelatedAgendaID:  &agenda.ID,
				RelatedProjectID: agenda.ProjectID,
			}, Interactive); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	logger.Info().Uint("agenda_id", id).Uint("user_id", actor.UserID).Msg("[Agenda] updated")
	return s.load(ctx, id)
}

func (s *AgendaService) Delete(ctx context.Context, actor Actor, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agenda models.Agenda
		if err := preloadAgenda(tx).First(&agenda, id).Error; err != nil {
			return response.NotFoundOr(err, "agenda")
		}
		if !CanEdit(actor, &agenda) {
			return response.NewForbidden("only the creator, the team leader or a superuser can delete this agenda")
		}
		if err := deleteAgendaRows(tx, []uint{id}); err != nil {
			return err
		}
		logger.Info().Uint("agenda_id", id).Uint("user_id", actor.UserID).Msg("[Agenda] deleted")
		return nil
	})
}

// deleteAgendaRows removes agendas with their assignments and collaborator
// links. Notifications keep their text but lose the agenda reference.
func deleteAgendaRows(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("agenda_id IN ?", ids).Delete(&models.AgendaAssignment{}).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM agenda_collaborators WHERE agenda_id IN ?", ids).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Notification{}).Where("related_agenda_id IN ?", ids).
		Update("related_agenda_id", nil).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Agenda{}, ids).Error
}

// nextStatus cycles pending -> in-progress -> completed -> pending.
func nextStatus(status string) string {
	switch status {
	case models.AgendaStatusPending:
		return models.AgendaStatusInProgress
	case models.AgendaStatusInProgress:
		return models.AgendaStatusCompleted
	default:
		return models.AgendaStatusPending
	}
}

// Toggle advances the status of a visible agenda and tells the team leader.
func (s *AgendaService) Toggle(ctx context.Context, actor Actor, id uint) (*models.Agenda, error) {
	box := &outbox{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agenda models.Agenda
		if err := preloadAgenda(tx).First(&agenda, id).Error; err != nil {
			return response.NotFoundOr(err, "agenda")
		}
		if !AgendaVisibleTo(actor, &agenda) {
			return response.NewNotFound("agenda not found")
		}

		agenda.Status = nextStatus(agenda.Status)
		if err := tx.Model(&agenda).Update("status", agenda.Status).Error; err != nil {
			return err
		}

		if agenda.TeamLeader == nil || actor.IsCollaborator(agenda.TeamLeader.ID) {
			return nil
		}
		return box.notifyCollaborator(tx, agenda.TeamLeader, models.Notification{
			Title:            "Status Changed",
			Message:          fmt.Sprintf("'%s' is now %s.", agenda.Title, agenda.Status),
			NotificationType: models.NotifyStatusChange,
			RelatedAgendaID:  &agenda.ID,
			RelatedProjectID: agenda.ProjectID,
		}, Interactive)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(box)
	return s.load(ctx, id)
}

func (s *AgendaService) load(ctx context.Context, id uint) (*models.Agenda, error) {
	var agenda models.Agenda
	if err := preloadAgenda(s.db.WithContext(ctx)).First(&agenda, id).Error; err != nil {
		return nil, response.NotFoundOr(err, "agenda")
	}
	return &agenda, nil
}

var agendaEditableColumns = []string{
	"project_id", "title", "description", "external_link", "date", "time",
	"expected_finish_date", "expected_finish_time", "status", "priority",
	"type", "category", "team_leader_id",
}

func applyAgendaUpdate(a *models.Agenda, req *UpdateAgendaRequest) {
	if req.ProjectID != nil {
		if *req.ProjectID == 0 {
			a.ProjectID = nil
		} else {
			a.ProjectID = req.ProjectID
		}
	}
	setString(&a.Title, req.Title)
	setString(&a.Description, req.Description)
	setString(&a.ExternalLink, req.ExternalLink)
	setString(&a.Date, req.Date)
	setString(&a.Time, req.Time)
	setString(&a.ExpectedFinishDate, req.ExpectedFinishDate)
	setString(&a.ExpectedFinishTime, req.ExpectedFinishTime)
	setString(&a.Status, req.Status)
	setString(&a.Priority, req.Priority)
	setString(&a.Type, req.Type)
	setString(&a.Category, req.Category)
	if req.TeamLeaderID != nil {
		if *req.TeamLeaderID == 0 {
			a.TeamLeaderID = nil
		} else {
			a.TeamLeaderID = req.TeamLeaderID
		}
	}
	a.Title = strings.TrimSpace(a.Title)
}

func validateAgenda(a *models.Agenda) error {
	if a.Title == "" {
		return response.NewFieldError("title", "this field is required")
	}
	if !models.ValidDate(a.Date) {
		return response.NewFieldError("date", "expected YYYY-MM-DD")
	}
	if a.Time != "" && !models.ValidClock(a.Time) {
		return response.NewFieldError("time", "expected HH:MM")
	}
	if a.ExpectedFinishDate != "" {
		if !models.ValidDate(a.ExpectedFinishDate) {
			return response.NewFieldError("expected_finish_date", "expected YYYY-MM-DD")
		}
		if a.ExpectedFinishDate < a.Date {
			return response.NewFieldError("expected_finish_date", "must not be before the start date")
		}
	}
	if a.ExpectedFinishTime != "" && !models.ValidClock(a.ExpectedFinishTime) {
		return response.NewFieldError("expected_finish_time", "expected HH:MM")
	}
	if !oneOf(a.Status, models.AgendaStatusPending, models.AgendaStatusInProgress, models.AgendaStatusCompleted) {
		return response.NewFieldError("status", "unknown status")
	}
	if !oneOf(a.Priority, models.PriorityLow, models.PriorityMedium, models.PriorityHigh) {
		return response.NewFieldError("priority", "unknown priority")
	}
	if !oneOf(a.Type, models.AgendaTypeTask, models.AgendaTypeMeeting) {
		return response.NewFieldError("type", "unknown type")
	}
	if !oneOf(a.Category, "", models.CategoryShort, models.CategoryMid, models.CategoryLong) {
		return response.NewFieldError("category", "unknown category")
	}
	return nil
}

// checkProjectAccess requires non-superusers to be members of the project
// they file an agenda under.
func checkProjectAccess(tx *gorm.DB, actor Actor, projectID *uint) error {
	if projectID == nil {
		return nil
	}
	var project models.Project
	if err := tx.Preload("Members").First(&project, *projectID).Error; err != nil {
		return response.NotFoundOr(err, "project")
	}
	if !ProjectVisibleTo(actor, &project) {
		return response.NewForbidden("you are not a member of this project")
	}
	return nil
}

// loadCollaborators checks that the leader and every listed collaborator
// exist and returns the listed profiles.
func loadCollaborators(tx *gorm.DB, leaderID *uint, in []AssigneeInput) ([]models.Collaborator, error) {
	if leaderID != nil {
		var n int64
		if err := tx.Model(&models.Collaborator{}).Where("id = ?", *leaderID).Count(&n).Error; err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, response.NewFieldError("team_leader_id", "collaborator not found")
		}
	}
	if len(in) == 0 {
		return []models.Collaborator{}, nil
	}
	ids := make([]uint, 0, len(in))
	for _, a := range in {
		ids = append(ids, a.CollaboratorID)
	}
	var collabs []models.Collaborator
	if err := tx.Where("id IN ?", ids).Find(&collabs).Error; err != nil {
		return nil, err
	}
	if len(collabs) != len(dutyIndex(in)) {
		return nil, response.NewFieldError("collaborators", "unknown collaborator")
	}
	return collabs, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func sameID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
