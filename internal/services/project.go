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

type ProjectService struct {
	db       *gorm.DB
	notifier *Notifier
	loc      *time.Location
	now      Clock
}

func NewProjectService(db *gorm.DB, notifier *Notifier, loc *time.Location) *ProjectService {
	if loc == nil {
		loc = time.UTC
	}
	return &ProjectService{db: db, notifier: notifier, loc: loc, now: time.Now}
}

func (s *ProjectService) SetClock(c Clock) { s.now = c }

type ProjectListRequest struct {
	Name string `form:"name"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
	MemberIDs   []uint `json:"member_ids"`
}

type UpdateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Color       string  `json:"color"`
}

// ProjectStats summarises a project's agendas as seen by the viewer.
type ProjectStats struct {
	Total           int    `json:"total"`
	Completed       int    `json:"completed"`
	Pending         int    `json:"pending"`
	Overdue         int    `json:"overdue"`
	ProgressPercent int    `json:"progress_percent"`
	Performance     string `json:"performance"`
}

// ProjectDetail is a project with the viewer's progress stats.
type ProjectDetail struct {
	models.Project
	Stats ProjectStats `json:"stats"`
}

// List returns the projects visible to the actor, newest first.
func (s *ProjectService) List(ctx context.Context, actor Actor, req *ProjectListRequest) ([]models.Project, error) {
	query := s.db.WithContext(ctx).Preload("Members").Order("created_at DESC")
	if req != nil && req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	var projects []models.Project
	if err := query.Find(&projects).Error; err != nil {
		return nil, err
	}
	return FilterProjects(actor, projects), nil
}

// Get returns a visible project. Stats are computed over the agendas the
// actor can see.
func (s *ProjectService) Get(ctx context.Context, actor Actor, id uint) (*ProjectDetail, error) {
	project, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ProjectVisibleTo(actor, project) {
		return nil, response.NewNotFound("project not found")
	}
	agendas, err := VisibleAgendas(s.db.WithContext(ctx), actor, func(q *gorm.DB) *gorm.DB {
		return q.Where("agendas.project_id = ?", id)
	})
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: *project, Stats: projectStats(agendas, s.now(), s.loc)}, nil
}

// Create adds a project. The creator's collaborator, every superuser's
// collaborator and the requested members join it; members other than the
// creator are notified.
func (s *ProjectService) Create(ctx context.Context, actor Actor, req *CreateProjectRequest) (*models.Project, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("only superusers can create projects")
	}
	project := models.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       defaultString(req.Color, models.DefaultProjectColor),
		CreatedByID: uintPtr(actor.UserID),
	}
	if project.Name == "" {
		return nil, response.NewFieldError("name", "this field is required")
	}
	if !models.IsValidProjectColor(project.Color) {
		return nil, response.NewFieldError("color", "unknown color")
	}

	box := &outbox{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members", "Agendas").Create(&project).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		ids := append([]uint{}, req.MemberIDs...)
		if actor.HasProfile() {
			ids = append(ids, *actor.CollaboratorID)
		}
		superCollabs, err := superuserCollaboratorIDs(tx)
		if err != nil {
			return err
		}
		ids = append(ids, superCollabs...)

		var members []models.Collaborator
		if err := tx.Where("id IN ?", ids).Find(&members).Error; err != nil {
			return err
		}
		if err := tx.Model(&project).Association("Members").Append(members); err != nil {
			return fmt.Errorf("add members: %w", err)
		}

		for i := range members {
			if actor.IsCollaborator(members[i].ID) {
				continue
			}
			if err := box.notifyCollaborator(tx, &members[i], models.Notification{
				Title:            "New Project",
				Message:          fmt.Sprintf("You've been added to the project '%s'.", project.Name),
				NotificationType: models.NotifyProjectCreated,
				RelatedProjectID: &project.ID,
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
	logger.Info().Uint("project_id", project.ID).Uint("user_id", actor.UserID).Msg("[Project] created")
	return s.load(ctx, project.ID)
}

func (s *ProjectService) Update(ctx context.Context, actor Actor, id uint, req *UpdateProjectRequest) (*models.Project, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("only superusers can edit projects")
	}
	project, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Color != "" {
		if !models.IsValidProjectColor(req.Color) {
			return nil, response.NewFieldError("color", "unknown color")
		}
		updates["color"] = req.Color
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.load(ctx, id)
}

// Delete removes the project together with its agendas.
func (s *ProjectService) Delete(ctx context.Context, actor Actor, id uint) error {
	if !actor.IsSuperuser {
		return response.NewForbidden("only superusers can delete projects")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, id).Error; err != nil {
			return response.NotFoundOr(err, "project")
		}
		var agendaIDs []uint
		if err := tx.Model(&models.Agenda{}).Where("project_id = ?", id).Pluck("id", &agendaIDs).Error; err != nil {
			return err
		}
		if err := deleteAgendaRows(tx, agendaIDs); err != nil {
			return err
		}
		if err := tx.Model(&project).Association("Members").Clear(); err != nil {
			return err
		}
		if err := tx.Where("related_project_id = ?", id).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&project).Error; err != nil {
			return err
		}
		logger.Info().Uint("project_id", id).Int("agendas", len(agendaIDs)).Msg("[Project] deleted")
		return nil
	})
}

// AddMember registers a collaborator as a project member.
func (s *ProjectService) AddMember(ctx context.Context, actor Actor, projectID, collaboratorID uint) (*models.Project, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("only superusers can manage members")
	}
	project, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.HasMember(collaboratorID) {
		return project, nil
	}
	var collab models.Collaborator
	if err := s.db.WithContext(ctx).First(&collab, collaboratorID).Error; err != nil {
		return nil, response.NotFoundOr(err, "collaborator")
	}
	if err := s.db.WithContext(ctx).Model(project).Association("Members").Append(&collab); err != nil {
		return nil, err
	}
	return s.load(ctx, projectID)
}

// RemoveMember unregisters a collaborator. Agendas stay visible to them
// through assignments and leadership.
func (s *ProjectService) RemoveMember(ctx context.Context, actor Actor, projectID, collaboratorID uint) (*models.Project, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("only superusers can manage members")
	}
	project, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasMember(collaboratorID) {
		return nil, response.NewNotFound("member not found")
	}
	protected, err := permanentMemberIDs(s.db.WithContext(ctx), project)
	if err != nil {
		return nil, err
	}
	if protected[collaboratorID] {
		return nil, response.NewBadRequest("the project creator and superusers cannot be removed")
	}
	if err := s.db.WithContext(ctx).Model(project).Association("Members").Delete(&models.Collaborator{ID: collaboratorID}); err != nil {
		return nil, err
	}
	return s.load(ctx, projectID)
}

func (s *ProjectService) load(ctx context.Context, id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.WithContext(ctx).Preload("Members").First(&project, id).Error; err != nil {
		return nil, response.NotFoundOr(err, "project")
	}
	return &project, nil
}

// JoinAllProjects makes the collaborator a member of every project. It runs
// when a superuser gets a collaborator profile.
func JoinAllProjects(tx *gorm.DB, collab *models.Collaborator) error {
	var projects []models.Project
	if err := tx.Find(&projects).Error; err != nil {
		return err
	}
	for i := range projects {
		if err := tx.Model(&projects[i]).Association("Members").Append(collab); err != nil {
			return fmt.Errorf("join project %d: %w", projects[i].ID, err)
		}
	}
	return nil
}

func superuserCollaboratorIDs(tx *gorm.DB) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.Collaborator{}).
		Joins("JOIN users ON users.id = collaborators.user_id").
		Where("users.is_superuser = ? AND users.deleted_at IS NULL", true).
		Pluck("collaborators.id", &ids).Error
	return ids, err
}

// permanentMemberIDs returns the profiles that always belong to the project:
// the creator's and every superuser's.
func permanentMemberIDs(tx *gorm.DB, project *models.Project) (map[uint]bool, error) {
	ids, err := superuserCollaboratorIDs(tx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]bool, len(ids)+1)
	for _, id := range ids {
		out[id] = true
	}
	if project.CreatedByID != nil {
		var creator []uint
		if err := tx.Model(&models.Collaborator{}).Where("user_id = ?", *project.CreatedByID).Pluck("id", &creator).Error; err != nil {
			return nil, err
		}
		for _, id := range creator {
			out[id] = true
		}
	}
	return out, nil
}

// projectStats counts agendas and rates progress: High at 75% or more,
// Medium from 40%, Low below.
func projectStats(agendas []models.Agenda, at time.Time, loc *time.Location) ProjectStats {
	st := ProjectStats{Total: len(agendas)}
	for i := range agendas {
		a := &agendas[i]
		if a.Status == models.AgendaStatusCompleted {
			st.Completed++
		} else {
			st.Pending++
		}
		if a.IsOverdue(at, loc) {
			st.Overdue++
		}
	}
	if st.Total > 0 {
		st.ProgressPercent = st.Completed * 100 / st.Total
	}
	switch {
	case st.ProgressPercent >= 75:
		st.Performance = "High"
	case st.ProgressPercent >= 40:
		st.Performance = "Medium"
	default:
		st.Performance = "Low"
	}
	return st
}
