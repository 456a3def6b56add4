package services

import (
	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
)

// ProjectVisibleTo reports whether actor may see project. Members must be loaded.
func ProjectVisibleTo(actor Actor, project *models.Project) bool {
	if actor.IsSuperuser {
		return true
	}
	if !actor.HasProfile() {
		return false
	}
	return project.HasMember(*actor.CollaboratorID)
}

// AgendaVisibleTo reports whether actor may see agenda. Assignments and
// Project.Members must be loaded. A rejected assignment hides the agenda from
// that collaborator regardless of any other relation.
func AgendaVisibleTo(actor Actor, agenda *models.Agenda) bool {
	if actor.IsSuperuser {
		return true
	}
	if !actor.HasProfile() {
		return false
	}
	collabID := *actor.CollaboratorID

	if as := agenda.AssignmentFor(collabID); as != nil {
		if as.Status == models.AssignmentRejected {
			return false
		}
		return true
	}
	if agenda.IsLeader(collabID) || agenda.IsCreator(actor.UserID) {
		return true
	}
	return agenda.Project != nil && agenda.Project.HasMember(collabID)
}

// FilterAgendas returns the agendas visible to actor, preserving order.
func FilterAgendas(actor Actor, agendas []models.Agenda) []models.Agenda {
	out := make([]models.Agenda, 0, len(agendas))
	for i := range agendas {
		if AgendaVisibleTo(actor, &agendas[i]) {
			out = append(out, agendas[i])
		}
	}
	return out
}

// FilterProjects returns the projects visible to actor, preserving order.
func FilterProjects(actor Actor, projects []models.Project) []models.Project {
	out := make([]models.Project, 0, len(projects))
	for i := range projects {
		if ProjectVisibleTo(actor, &projects[i]) {
			out = append(out, projects[i])
		}
	}
	return out
}

// preloadAgenda adds the relations visibility and projection need.
func preloadAgenda(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Project.Members").
		Preload("TeamLeader").
		Preload("CreatedBy.Collaborator").
		Preload("Collaborators").
		Preload("Assignments.Collaborator")
}

// scopeVisibleAgendas narrows an agenda query in SQL to candidates that may be
// visible. The exact rule, including the rejection veto, is applied by
// FilterAgendas on the loaded rows.
func scopeVisibleAgendas(db *gorm.DB, actor Actor) *gorm.DB {
	if actor.IsSuperuser {
		return db
	}
	if !actor.HasProfile() {
		return db.Where("1 = 0")
	}
	collabID := *actor.CollaboratorID
	fresh := db.Session(&gorm.Session{NewDB: true})
	assigned := fresh.Model(&models.AgendaAssignment{}).Select("agenda_id").Where("collaborator_id = ?", collabID)
	memberOf := fresh.Table("project_members").Select("project_id").Where("collaborator_id = ?", collabID)
	return db.Where(
		fresh.Where("agendas.id IN (?)", assigned).
			Or("agendas.team_leader_id = ?", collabID).
			Or("agendas.created_by_id = ?", actor.UserID).
			Or("agendas.project_id IN (?)", memberOf),
	)
}

// VisibleAgendas loads every agenda visible to actor. extra may further
// narrow the query (status, project, date range).
func VisibleAgendas(db *gorm.DB, actor Actor, extra func(*gorm.DB) *gorm.DB) ([]models.Agenda, error) {
	q := scopeVisibleAgendas(preloadAgenda(db.Model(&models.Agenda{})), actor)
	if extra != nil {
		q = extra(q)
	}
	var agendas []models.Agenda
	if err := q.Order("agendas.date ASC, agendas.time ASC").Find(&agendas).Error; err != nil {
		return nil, err
	}
	return FilterAgendas(actor, agendas), nil
}
