package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/agendatrack/internal/config"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/internal/utils"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
)

const (
	AuthTypeLocal = "local"
	AuthTypeLDAP  = "ldap"
)

type AuthService struct {
	db        *gorm.DB
	directory DirectoryAuthenticator
	jwtConfig *config.JWTConfig
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, directory DirectoryAuthenticator) *AuthService {
	return &AuthService{db: db, directory: directory, jwtConfig: jwtCfg}
}

type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=6"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	AuthType string `json:"auth_type"` // local, ldap
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

// Register creates an inactive local account that waits for approval.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, response.NewFieldError("username", "this field is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, response.NewFieldError("username", "username already exists")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, response.NewFieldError("password", err.Error())
	}
	user := models.User{
		Username:  username,
		Password:  hashed,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		AuthType:  AuthTypeLocal,
		IsActive:  false,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	logger.Info().Str("username", username).Msg("[Auth] registration pending approval")
	return &user, nil
}

// Login authenticates the user and returns a signed token.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if req.AuthType == "" {
		req.AuthType = AuthTypeLocal
	}

	var user *models.User
	var err error
	switch req.AuthType {
	case AuthTypeLocal:
		user, err = s.localAuth(ctx, req.Username, req.Password)
	case AuthTypeLDAP:
		user, err = s.ldapAuth(ctx, req.Username, req.Password)
	default:
		return nil, response.NewFieldError("auth_type", "invalid auth type")
	}
	if err != nil {
		return nil, err
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.IsSuperuser, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	if err := s.db.WithContext(ctx).Model(user).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] failed to record last login")
	}

	return &LoginResponse{
		Token:    token,
		User:     user,
		ExpireAt: now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
	}, nil
}

func (s *AuthService) localAuth(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Collaborator").
		Where("username = ? AND auth_type = ?", username, AuthTypeLocal).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewUnauthorized("account not found, please request access first")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, response.NewUnauthorized("your account is pending admin approval")
	}
	if !utils.CheckPassword(password, user.Password) {
		return nil, response.NewUnauthorized("invalid password")
	}
	return &user, nil
}

// ldapAuth verifies against the directory and provisions an active local
// record with a collaborator profile on first login.
func (s *AuthService) ldapAuth(ctx context.Context, username, password string) (*models.User, error) {
	if s.directory == nil || !s.directory.Enabled() {
		return nil, response.NewBadRequest("LDAP login is not enabled")
	}
	ldapUser, err := s.directory.Authenticate(username, password)
	if err != nil {
		logger.Warn().Err(err).Str("username", username).Msg("[Auth] LDAP authentication failed")
		return nil, response.NewUnauthorized("invalid username or password")
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Preload("Collaborator").
			Where("username = ? AND auth_type = ?", ldapUser.Username, AuthTypeLDAP).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = models.User{
				Username: ldapUser.Username,
				AuthType: AuthTypeLDAP,
				IsActive: true,
			}
		} else if err != nil {
			return err
		}
		if !user.IsActive && user.ID != 0 {
			return response.NewUnauthorized("user is disabled")
		}

		user.Email = ldapUser.Email
		user.FirstName = ldapUser.FirstName
		user.LastName = ldapUser.LastName
		if err := tx.Omit("Collaborator").Save(&user).Error; err != nil {
			return err
		}
		if user.Collaborator == nil {
			collab, err := ensureProfile(tx, &user, ldapUser.DisplayName)
			if err != nil {
				return err
			}
			user.Collaborator = collab
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID returns a user with its collaborator profile.
func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Collaborator").First(&user, id).Error; err != nil {
		return nil, response.NotFoundOr(err, "user")
	}
	return &user, nil
}

// PendingUsers lists registrations waiting for approval, newest first.
func (s *AuthService) PendingUsers(ctx context.Context, actor Actor) ([]models.User, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("admin privileges required")
	}
	var users []models.User
	err := s.db.WithContext(ctx).Where("is_active = ?", false).Order("created_at DESC").Find(&users).Error
	return users, err
}

// Approve activates a registration and gives it a collaborator profile.
func (s *AuthService) Approve(ctx context.Context, actor Actor, userID uint) (*models.User, error) {
	if !actor.IsSuperuser {
		return nil, response.NewForbidden("admin privileges required")
	}
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Collaborator").First(&user, userID).Error; err != nil {
			return response.NotFoundOr(err, "user")
		}
		if err := tx.Model(&user).Update("is_active", true).Error; err != nil {
			return err
		}
		user.IsActive = true
		if user.Collaborator != nil {
			return nil
		}
		collab, err := ensureProfile(tx, &user, "")
		if err != nil {
			return err
		}
		user.Collaborator = collab
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Uint("user_id", userID).Uint("approved_by", actor.UserID).Msg("[Auth] user approved")
	return &user, nil
}

// ensureProfile links the user to a collaborator profile, adopting an
// unlinked placeholder with the same email when one exists.
func ensureProfile(tx *gorm.DB, user *models.User, name string) (*models.Collaborator, error) {
	var collab models.Collaborator
	adopted := false
	if user.Email != "" {
		err := tx.Where("user_id IS NULL AND email = ?", user.Email).First(&collab).Error
		if err == nil {
			adopted = true
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if adopted {
		collab.UserID = &user.ID
		if err := tx.Model(&collab).Update("user_id", user.ID).Error; err != nil {
			return nil, fmt.Errorf("link collaborator: %w", err)
		}
	} else {
		if name == "" {
			name = user.DisplayName()
		}
		collab = models.Collaborator{
			UserID:         &user.ID,
			Name:           name,
			Email:          user.Email,
			WhatsappNumber: truncate(user.Username, 20),
		}
		if err := tx.Create(&collab).Error; err != nil {
			return nil, fmt.Errorf("create collaborator: %w", err)
		}
	}

	if user.IsSuperuser {
		if err := JoinAllProjects(tx, &collab); err != nil {
			return nil, err
		}
	}
	return &collab, nil
}

// CreateAdminIfNotExists seeds a superuser with a collaborator profile when
// the database has none.
func (s *AuthService) CreateAdminIfNotExists(username, password string) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("is_superuser = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		admin := models.User{
			Username:    username,
			Password:    hashed,
			FirstName:   "Administrator",
			IsSuperuser: true,
			IsActive:    true,
			AuthType:    AuthTypeLocal,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		_, err := ensureProfile(tx, &admin, "")
		logger.Info().Str("username", username).Msg("[Auth] default superuser created")
		return err
	})
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.directory != nil && s.directory.Enabled()
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, req *ChangePasswordRequest) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return response.NotFoundOr(err, "user")
	}
	if user.AuthType != AuthTypeLocal {
		return response.NewBadRequest("LDAP users cannot change password here")
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewFieldError("old_password", "incorrect old password")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return response.NewFieldError("new_password", err.Error())
	}
	return s.db.WithContext(ctx).Model(&user).Update("password", hashed).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
