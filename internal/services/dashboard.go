package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
)

// DashboardService serves the read-only views: dashboard, task overview,
// search, calendar and analytics. Every view is limited to what the actor
// can see.
type DashboardService struct {
	db  *gorm.DB
	loc *time.Location
	now Clock
}

func NewDashboardService(db *gorm.DB, loc *time.Location) *DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardService{db: db, loc: loc, now: time.Now}
}

func (s *DashboardService) SetClock(c Clock) { s.now = c }

func (s *DashboardService) projector() Projector { return NewProjector(s.loc, s.now) }

type DashboardStats struct {
	TotalAgendas      int `json:"total_agendas"`
	CompletedAgendas  int `json:"completed_agendas"`
	PendingAgendas    int `json:"pending_agendas"`
	InProgressAgendas int `json:"in_progress_agendas"`
	OverdueCount      int `json:"overdue_count"`
	TodayCount        int `json:"today_count"`
}

type DashboardResponse struct {
	Projects       []models.Project `json:"projects"`
	Stats          DashboardStats   `json:"stats"`
	RecentAgendas  []interface{}    `json:"recent_agendas"`
	OverdueAgendas []interface{}    `json:"overdue_agendas"`
}

const recentAgendaLimit = 10

func (s *DashboardService) Dashboard(ctx context.Context, actor Actor) (*DashboardResponse, error) {
	db := s.db.WithContext(ctx)
	agendas, err := VisibleAgendas(db, actor, nil)
	if err != nil {
		return nil, err
	}
	var projects []models.Project
	if err := db.Preload("Members").Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	now := s.now()
	today := now.In(s.loc).Format(models.DateLayout)
	var stats DashboardStats
	var overdue []models.Agenda
	for _, a := range agendas {
		stats.TotalAgendas++
		switch a.Status {
		case models.AgendaStatusCompleted:
			stats.CompletedAgendas++
		case models.AgendaStatusInProgress:
			stats.InProgressAgendas++
		default:
			stats.PendingAgendas++
		}
		if a.Date == today {
			stats.TodayCount++
		}
		if a.IsOverdue(now, s.loc) {
			overdue = append(overdue, a)
		}
	}
	stats.OverdueCount = len(overdue)

	recent := append([]models.Agenda(nil), agendas...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > recentAgendaLimit {
		recent = recent[:recentAgendaLimit]
	}

	p := s.projector()
	return &DashboardResponse{
		Projects:       FilterProjects(actor, projects),
		Stats:          stats,
		RecentAgendas:  p.ProjectAgendas(actor, recent),
		OverdueAgendas: p.ProjectAgendas(actor, overdue),
	}, nil
}

type OverviewResponse struct {
	AllUndone           []interface{} `json:"all_undone"`
	CompletedToday      []interface{} `json:"completed_today"`
	PendingCount        int           `json:"pending_count"`
	InProgressCount     int           `json:"in_progress_count"`
	HighPriorityCount   int           `json:"high_priority_count"`
	CompletedTodayCount int           `json:"completed_today_count"`
}

// Overview lists open agendas by start and those completed today.
func (s *DashboardService) Overview(ctx context.Context, actor Actor) (*OverviewResponse, error) {
	agendas, err := VisibleAgendas(s.db.WithContext(ctx), actor, nil)
	if err != nil {
		return nil, err
	}

	dayStart := models.StartOfDay(s.now().In(s.loc))
	dayEnd := dayStart.AddDate(0, 0, 1)
	var undone, doneToday []models.Agenda
	resp := &OverviewResponse{}
	for _, a := range agendas {
		switch a.Status {
		case models.AgendaStatusCompleted:
			if !a.UpdatedAt.Before(dayStart) && a.UpdatedAt.Before(dayEnd) {
				doneToday = append(doneToday, a)
			}
			continue
		case models.AgendaStatusInProgress:
			resp.InProgressCount++
		default:
			resp.PendingCount++
		}
		if a.Priority == models.PriorityHigh {
			resp.HighPriorityCount++
		}
		undone = append(undone, a)
	}
	sort.SliceStable(doneToday, func(i, j int) bool { return doneToday[i].UpdatedAt.After(doneToday[j].UpdatedAt) })

	p := s.projector()
	resp.AllUndone = p.ProjectAgendas(actor, undone)
	resp.CompletedToday = p.ProjectAgendas(actor, doneToday)
	resp.CompletedTodayCount = len(doneToday)
	return resp, nil
}

type SearchResponse struct {
	Projects []models.Project `json:"projects"`
	Agendas  []interface{}    `json:"agendas"`
}

// Search matches the query against project names and descriptions and agenda
// titles and descriptions. An empty query returns nothing.
func (s *DashboardService) Search(ctx context.Context, actor Actor, q string) (*SearchResponse, error) {
	resp := &SearchResponse{Projects: []models.Project{}, Agendas: []interface{}{}}
	q = strings.TrimSpace(q)
	if q == "" {
		return resp, nil
	}
	like := "%" + strings.ToLower(q) + "%"
	db := s.db.WithContext(ctx)

	var projects []models.Project
	if err := db.Preload("Members").
		Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like).
		Find(&projects).Error; err != nil {
		return nil, err
	}
	agendas, err := VisibleAgendas(db, actor, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("LOWER(agendas.title) LIKE ? OR LOWER(agendas.description) LIKE ?", like, like)
	})
	if err != nil {
		return nil, err
	}

	resp.Projects = FilterProjects(actor, projects)
	resp.Agendas = s.projector().ProjectAgendas(actor, agendas)
	return resp, nil
}

// CalendarEvent is one agenda placed on the calendar.
type CalendarEvent struct {
	ID        uint   `json:"id"`
	Title     string `json:"title"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Color     string `json:"color"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	Type      string `json:"type"`
	IsOverdue bool   `json:"is_overdue"`
}

// Calendar returns visible agendas starting within [start, end]. Either
// bound may be empty.
func (s *DashboardService) Calendar(ctx context.Context, actor Actor, start, end string) ([]CalendarEvent, error) {
	agendas, err := VisibleAgendas(s.db.WithContext(ctx), actor, func(q *gorm.DB) *gorm.DB {
		if start != "" {
			q = q.Where("agendas.date >= ?", start)
		}
		if end != "" {
			q = q.Where("agendas.date <= ?", end)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	events := make([]CalendarEvent, 0, len(agendas))
	for _, a := range agendas {
		ev := CalendarEvent{
			ID:        a.ID,
			Title:     a.Title,
			Start:     a.Date,
			End:       defaultString(a.ExpectedFinishDate, a.Date),
			Color:     models.DefaultProjectColor,
			Status:    a.Status,
			Priority:  a.Priority,
			Type:      a.Type,
			IsOverdue: a.IsOverdue(now, s.loc),
		}
		if a.Project != nil && a.Project.Color != "" {
			ev.Color = a.Project.Color
		}
		if a.Time != "" {
			ev.Start += "T" + a.Time
		}
		if a.ExpectedFinishTime != "" {
			ev.End += "T" + a.ExpectedFinishTime
		}
		events = append(events, ev)
	}
	return events, nil
}

type GlobalStats struct {
	TotalProjects int `json:"total_projects"`
	TotalTasks    int `json:"total_tasks"`
	Progress      int `json:"progress"`
	OverdueTasks  int `json:"overdue_tasks"`
}

type ProjectAnalytics struct {
	Project       models.Project    `json:"project"`
	Collaborators []CollaboratorRef `json:"collaborators"`
	Stats         ProjectStats      `json:"stats"`
}

type AnalyticsResponse struct {
	GlobalStats  GlobalStats        `json:"global_stats"`
	ProjectsData []ProjectAnalytics `json:"projects_data"`
}

// Analytics rates every visible project by the agendas the actor can see.
func (s *DashboardService) Analytics(ctx context.Context, actor Actor) (*AnalyticsResponse, error) {
	db := s.db.WithContext(ctx)
	agendas, err := VisibleAgendas(db, actor, nil)
	if err != nil {
		return nil, err
	}
	var projects []models.Project
	if err := db.Preload("Members").Order("name ASC").Find(&projects).Error; err != nil {
		return nil, err
	}
	projects = FilterProjects(actor, projects)

	now := s.now()
	all := projectStats(agendas, now, s.loc)
	resp := &AnalyticsResponse{
		GlobalStats: GlobalStats{
			TotalProjects: len(projects),
			TotalTasks:    all.Total,
			Progress:      all.ProgressPercent,
			OverdueTasks:  all.Overdue,
		},
		ProjectsData: make([]ProjectAnalytics, 0, len(projects)),
	}

	byProject := map[uint][]models.Agenda{}
	for _, a := range agendas {
		if a.ProjectID != nil {
			byProject[*a.ProjectID] = append(byProject[*a.ProjectID], a)
		}
	}
	for _, p := range projects {
		list := byProject[p.ID]
		seen := map[uint]bool{}
		collabs := []CollaboratorRef{}
		for _, a := range list {
			for _, as := range a.Assignments {
				if as.Status == models.AssignmentRejected || seen[as.CollaboratorID] || as.Collaborator == nil {
					continue
				}
				seen[as.CollaboratorID] = true
				collabs = append(collabs, CollaboratorRef{ID: as.CollaboratorID, Name: as.Collaborator.Name})
			}
		}
		resp.ProjectsData = append(resp.ProjectsData, ProjectAnalytics{
			Project:       p,
			Collaborators: collabs,
			Stats:         projectStats(list, now, s.loc),
		})
	}
	return resp, nil
}
