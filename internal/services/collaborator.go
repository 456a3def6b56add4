package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
)

type CollaboratorService struct {
	db *gorm.DB
}

func NewCollaboratorService(db *gorm.DB) *CollaboratorService {
	return &CollaboratorService{db: db}
}

type CollaboratorListRequest struct {
	Search string `form:"search"`
}

type CollaboratorRequest struct {
	UserID         *uint  `json:"user_id"`
	Name           string `json:"name"`
	Institute      string `json:"institute"`
	Address        string `json:"address"`
	Email          string `json:"email"`
	WhatsappNumber string `json:"whatsapp_number"`
}

// AssignmentStats counts a collaborator's assignments by status.
type AssignmentStats struct {
	Pending  int64 `json:"pending"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Leading  int64 `json:"leading"`
}

type CollaboratorDetail struct {
	models.Collaborator
	Stats AssignmentStats `json:"stats"`
}

func (s *CollaboratorService) List(ctx context.Context, req *CollaboratorListRequest) ([]models.Collaborator, error) {
	query := s.db.WithContext(ctx).Model(&models.Collaborator{})
	if req != nil && req.Search != "" {
		like := "%" + strings.ToLower(req.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(institute) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	var collabs []models.Collaborator
	if err := query.Order("name ASC").Find(&collabs).Error; err != nil {
		return nil, err
	}
	return collabs, nil
}

func (s *CollaboratorService) Get(ctx context.Context, id uint) (*CollaboratorDetail, error) {
	collab, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.AgendaAssignment{}).
		Select("status, COUNT(*) as count").
		Where("collaborator_id = ?", id).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	var stats AssignmentStats
	for _, r := range rows {
		switch r.Status {
		case models.AssignmentPending:
			stats.Pending = r.Count
		case models.AssignmentAccepted:
			stats.Accepted = r.Count
		case models.AssignmentRejected:
			stats.Rejected = r.Count
		}
	}
	if err := s.db.WithContext(ctx).Model(&models.Agenda{}).Where("team_leader_id = ?", id).Count(&stats.Leading).Error; err != nil {
		return nil, err
	}
	return &CollaboratorDetail{Collaborator: *collab, Stats: stats}, nil
}

// Create adds a profile. Linking it to a superuser also makes it a member of
// every project.
func (s *CollaboratorService) Create(ctx context.Context, actor Actor, req *CollaboratorRequest) (*models.Collaborator, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("only superusers can create collaborators")
	}
	collab := models.Collaborator{
		UserID:         req.UserID,
		Name:           strings.TrimSpace(req.Name),
		Institute:      req.Institute,
		Address:        req.Address,
		Email:          req.Email,
		WhatsappNumber: req.WhatsappNumber,
	}
	if collab.Name == "" {
		return nil, response.NewFieldError("name", "this field is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := linkableUser(tx, req.UserID, 0)
		if err != nil {
			return err
		}
		if err := tx.Create(&collab).Error; err != nil {
			return fmt.Errorf("create collaborator: %w", err)
		}
		if user != nil && user.IsSuperuser {
			return JoinAllProjects(tx, &collab)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Uint("collaborator_id", collab.ID).Msg("[Collaborator] created")
	return &collab, nil
}

// Update edits a profile. Users may edit their own profile but only
// superusers may change the user link.
func (s *CollaboratorService) Update(ctx context.Context, actor Actor, id uint, req *CollaboratorRequest) (*models.Collaborator, error) {
	if !actor.IsSuperuser && !actor.IsCollaborator(id) {
		return nil, response.NewForbidden("you can only edit your own profile")
	}
	collab, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.Institute != "" {
		updates["institute"] = req.Institute
	}
	if req.Address != "" {
		updates["address"] = req.Address
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.WhatsappNumber != "" {
		updates["whatsapp_number"] = req.WhatsappNumber
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.UserID != nil && !sameID(req.UserID, collab.UserID) {
			if !actor.IsSuperuser {
				return response.NewForbidden("only superusers can link profiles to users")
			}
			user, err := linkableUser(tx, req.UserID, id)
			if err != nil {
				return err
			}
			updates["user_id"] = *req.UserID
			if user.IsSuperuser {
				if err := JoinAllProjects(tx, collab); err != nil {
					return err
				}
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(collab).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Delete removes a profile with its assignments and memberships. Agendas it
// led lose their leader.
func (s *CollaboratorService) Delete(ctx context.Context, actor Actor, id uint) error {
	if !actor.IsSuperuser {
		return response.NewForbidden("only superusers can delete collaborators")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var collab models.Collaborator
		if err := tx.First(&collab, id).Error; err != nil {
			return response.NotFoundOr(err, "collaborator")
		}
		if err := tx.Where("collaborator_id = ?", id).Delete(&models.AgendaAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM project_members WHERE collaborator_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM agenda_collaborators WHERE collaborator_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Agenda{}).Where("team_leader_id = ?", id).Update("team_leader_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Agenda{}).Where("extension_requested_by_id = ?", id).
			Update("extension_requested_by_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&collab).Error
	})
}

func (s *CollaboratorService) load(ctx context.Context, id uint) (*models.Collaborator, error) {
	var collab models.Collaborator
	if err := s.db.WithContext(ctx).First(&collab, id).Error; err != nil {
		return nil, response.NotFoundOr(err, "collaborator")
	}
	return &collab, nil
}

// linkableUser loads the user a profile is about to be linked to and checks
// that no other profile holds it.
func linkableUser(tx *gorm.DB, userID *uint, selfID uint) (*models.User, error) {
	if userID == nil {
		return nil, nil
	}
	var user models.User
	if err := tx.First(&user, *userID).Error; err != nil {
		return nil, response.NotFoundOr(err, "user")
	}
	var count int64
	if err := tx.Model(&models.Collaborator{}).Where("user_id = ? AND id <> ?", *userID, selfID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, response.NewFieldError("user_id", "user already has a collaborator profile")
	}
	return &user, nil
}
