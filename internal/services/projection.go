package services

import (
	"time"

	"github.com/huangang/agendatrack/internal/models"
)

// CollaboratorRef is a short collaborator reference.
type CollaboratorRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// MyAssignment is the viewer's own invitation state.
type MyAssignment struct {
	Status          string `json:"status"`
	Duty            string `json:"duty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// AgendaView is the agenda read model every viewer gets.
type AgendaView struct {
	ID                 uint             `json:"id"`
	Project            *ProjectSummary  `json:"project,omitempty"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	ExternalLink       string           `json:"external_link"`
	Date               string           `json:"date"`
	Time               string           `json:"time"`
	ExpectedFinishDate string           `json:"expected_finish_date"`
	ExpectedFinishTime string           `json:"expected_finish_time"`
	Status             string           `json:"status"`
	Priority           string           `json:"priority"`
	Type               string           `json:"type"`
	Category           string           `json:"category"`
	CalculatedCategory string           `json:"calculated_category"`
	IsOverdue          bool             `json:"is_overdue"`
	TeamLeader         *CollaboratorRef `json:"team_leader,omitempty"`
	CollaboratorCount  int              `json:"collaborator_count"`
	MyAssignment       *MyAssignment    `json:"my_assignment,omitempty"`
	ExtensionCount     int              `json:"extension_count"`
	ExtensionStatus    string           `json:"extension_status"`
	CanExtend          bool             `json:"can_extend"`
	IsApprover         bool             `json:"is_approver"`
	CreatedAt          time.Time        `json:"created_at"`
}

// AssignmentView is one row of the assignment roster.
type AssignmentView struct {
	CollaboratorID  uint   `json:"collaborator_id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Duty            string `json:"duty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// AgendaAdminView adds the roster and extension audit trail for approvers.
type AgendaAdminView struct {
	AgendaView
	Assignments          []AssignmentView `json:"assignments"`
	RequestedFinishDate  string           `json:"requested_finish_date"`
	RequestedFinishTime  string           `json:"requested_finish_time"`
	ExtensionRequestedBy *CollaboratorRef `json:"extension_requested_by,omitempty"`
	ExtensionReason      string           `json:"extension_reason"`
	OriginalDeadlineDate string           `json:"original_deadline_date"`
	OriginalDeadlineTime string           `json:"original_deadline_time"`
	WasMissed            bool             `json:"was_missed"`
}

// Projector renders agendas into role-specific read models.
type Projector struct {
	loc *time.Location
	now Clock
}

func NewProjector(loc *time.Location, now Clock) Projector {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Projector{loc: loc, now: now}
}

// ProjectAgenda returns *AgendaAdminView for approvers of the agenda and
// *AgendaView for everyone else.
func (p Projector) ProjectAgenda(actor Actor, agenda *models.Agenda) interface{} {
	base := p.view(actor, agenda)
	if !base.IsApprover {
		return base
	}
	return p.adminView(base, agenda)
}

// ProjectAgendas applies ProjectAgenda to each agenda.
func (p Projector) ProjectAgendas(actor Actor, agendas []models.Agenda) []interface{} {
	out := make([]interface{}, 0, len(agendas))
	for i := range agendas {
		out = append(out, p.ProjectAgenda(actor, &agendas[i]))
	}
	return out
}

func (p Projector) view(actor Actor, a *models.Agenda) *AgendaView {
	v := &AgendaView{
		ID:                 a.ID,
		Title:              a.Title,
		Description:        a.Description,
		ExternalLink:       a.ExternalLink,
		Date:               a.Date,
		Time:               a.Time,
		ExpectedFinishDate: a.ExpectedFinishDate,
		ExpectedFinishTime: a.ExpectedFinishTime,
		Status:             a.Status,
		Priority:           a.Priority,
		Type:               a.Type,
		Category:           a.EffectiveCategory(),
		CalculatedCategory: a.CalculatedCategory(),
		IsOverdue:          a.IsOverdue(p.now(), p.loc),
		ExtensionCount:     a.ExtensionCount,
		ExtensionStatus:    a.ExtensionStatus,
		CanExtend:          a.HasExtensionsLeft(),
		IsApprover:         IsApprover(actor, a),
		CreatedAt:          a.CreatedAt,
	}
	if a.Project != nil {
		v.Project = &ProjectSummary{ID: a.Project.ID, Name: a.Project.Name, Color: a.Project.Color}
	}
	if a.TeamLeader != nil {
		v.TeamLeader = &CollaboratorRef{ID: a.TeamLeader.ID, Name: a.TeamLeader.Name}
	}
	for _, as := range a.Assignments {
		if as.Status != models.AssignmentRejected {
			v.CollaboratorCount++
		}
	}
	if actor.HasProfile() {
		if as := a.AssignmentFor(*actor.CollaboratorID); as != nil {
			v.MyAssignment = &MyAssignment{Status: as.Status, Duty: as.Duty, RejectionReason: as.RejectionReason}
		}
	}
	return v
}

func (p Projector) adminView(base *AgendaView, a *models.Agenda) *AgendaAdminView {
	v := &AgendaAdminView{
		AgendaView:           *base,
		Assignments:          make([]AssignmentView, 0, len(a.Assignments)),
		RequestedFinishDate:  a.RequestedFinishDate,
		RequestedFinishTime:  a.RequestedFinishTime,
		ExtensionReason:      a.ExtensionReason,
		OriginalDeadlineDate: a.OriginalDeadlineDate,
		OriginalDeadlineTime: a.OriginalDeadlineTime,
		WasMissed:            a.WasMissed,
	}
	for _, as := range a.Assignments {
		row := AssignmentView{
			CollaboratorID:  as.CollaboratorID,
			Status:          as.Status,
			Duty:            as.Duty,
			RejectionReason: as.RejectionReason,
		}
		if as.Collaborator != nil {
			row.Name = as.Collaborator.Name
		}
		v.Assignments = append(v.Assignments, row)
	}
	if a.ExtensionRequestedByID != nil {
		ref := &CollaboratorRef{ID: *a.ExtensionRequestedByID}
		if c := assignmentCollaborator(a, *a.ExtensionRequestedByID); c != nil {
			ref.Name = c.Name
		}
		v.ExtensionRequestedBy = ref
	}
	return v
}
