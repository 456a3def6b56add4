package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/internal/utils"
	"github.com/huangang/agendatrack/pkg/response"
	"gorm.io/gorm"
)

const (
	ContextUserID    = "user_id"
	ContextUsername  = "username"
	ContextSuperuser = "is_superuser"
	ContextActor     = "actor"
)

// tokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for EventSource clients that cannot set
// headers.
func tokenFromRequest(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "authorization header required"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "invalid authorization header format"
	}
	return parts[1], ""
}

// AuthRequired checks the JWT and stores the claims in the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := tokenFromRequest(c)
		if problem != "" {
			response.Unauthorized(c, problem)
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextSuperuser, claims.IsSuperuser)
		c.Next()
	}
}

// LoadActor resolves the authenticated user into a services.Actor. The
// superuser flag and collaborator link come from the database so changes
// apply without a new token. Inactive or deleted users are rejected.
func LoadActor(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == 0 {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}
		var user models.User
		err := db.WithContext(c.Request.Context()).Preload("Collaborator").First(&user, userID).Error
		if err != nil || !user.IsActive {
			response.Unauthorized(c, "account is inactive or no longer exists")
			c.Abort()
			return
		}
		actor := services.ActorFor(&user)
		c.Set(ContextActor, actor)
		c.Set(ContextSuperuser, actor.IsSuperuser)
		c.Next()
	}
}

// SuperuserRequired only lets superusers through.
func SuperuserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsSuperuser(c) {
			response.Forbidden(c, "admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}

func IsSuperuser(c *gin.Context) bool {
	if v, exists := c.Get(ContextSuperuser); exists {
		return v.(bool)
	}
	return false
}

// GetActor returns the actor stored by LoadActor. Without it the actor only
// carries the token claims and has no collaborator profile.
func GetActor(c *gin.Context) services.Actor {
	if v, exists := c.Get(ContextActor); exists {
		return v.(services.Actor)
	}
	return services.Actor{UserID: GetUserID(c), Username: GetUsername(c), IsSuperuser: IsSuperuser(c)}
}
