package services

import (
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
)

// Actor is the principal an operation runs on behalf of. It is passed
// explicitly to every core operation.
type Actor struct {
	UserID         uint
	Username       string
	IsSuperuser    bool
	CollaboratorID *uint
}

// HasProfile reports whether the actor is linked to a collaborator profile.
func (a Actor) HasProfile() bool {
	return a.CollaboratorID != nil
}

// IsCollaborator reports whether the actor's profile is the given collaborator.
func (a Actor) IsCollaborator(id uint) bool {
	return a.CollaboratorID != nil && *a.CollaboratorID == id
}

// ResolveActor loads the user's superuser flag and collaborator link.
func ResolveActor(db *gorm.DB, userID uint) (Actor, error) {
	var user models.User
	if err := db.Preload("Collaborator").First(&user, userID).Error; err != nil {
		return Actor{}, err
	}
	return ActorFor(&user), nil
}

// ActorFor builds an Actor from a user with its Collaborator preloaded.
func ActorFor(user *models.User) Actor {
	a := Actor{UserID: user.ID, Username: user.Username, IsSuperuser: user.IsSuperuser}
	if user.Collaborator != nil {
		id := user.Collaborator.ID
		a.CollaboratorID = &id
	}
	return a
}

// Clock returns the current time. Services take one so time-based rules can
// be evaluated at fixed instants.
type Clock func() time.Time

func uintPtr(v uint) *uint { return &v }
