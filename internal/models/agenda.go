package models

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Agenda status values.
const (
	AgendaStatusPending    = "pending"
	AgendaStatusInProgress = "in-progress"
	AgendaStatusCompleted  = "completed"
)

// Agenda priority values.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Agenda type values.
const (
	AgendaTypeTask    = "task"
	AgendaTypeMeeting = "meeting"
)

// Category values; an empty Category means "use the calculated one".
const (
	CategoryShort = "short"
	CategoryMid   = "mid"
	CategoryLong  = "long"
)

// Extension status values.
const (
	ExtensionNone     = "none"
	ExtensionPending  = "pending"
	ExtensionApproved = "approved"
	ExtensionRejected = "rejected"
)

// MaxExtensions is the number of deadline extensions an agenda may ever receive.
const MaxExtensions = 1

// Agenda is a task or meeting. Dates are stored as YYYY-MM-DD and times as
// HH:MM and are interpreted in the application time zone.
type Agenda struct {
	ID                 uint     `gorm:"primaryKey" json:"id"`
	ProjectID          *uint    `gorm:"index" json:"project_id"`
	Project            *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Title              string   `gorm:"size:200;not null" json:"title"`
	Description        string   `gorm:"type:text" json:"description"`
	ExternalLink       string   `gorm:"size:500" json:"external_link"`
	Date               string   `gorm:"size:10;index;not null" json:"date"`
	Time               string   `gorm:"size:5" json:"time"`
	ExpectedFinishDate string   `gorm:"size:10" json:"expected_finish_date"`
	ExpectedFinishTime string   `gorm:"size:5" json:"expected_finish_time"`
	Status             string   `gorm:"size:20;default:pending;index" json:"status"`
	Priority           string   `gorm:"size:20;default:medium" json:"priority"`
	Type               string   `gorm:"size:20;default:task" json:"type"`
	Category           string   `gorm:"size:10" json:"category"`

	CreatedByID  *uint         `gorm:"index" json:"created_by_id"`
	CreatedBy    *User         `gorm:"foreignKey:CreatedByID" json:"-"`
	TeamLeaderID *uint         `gorm:"index" json:"team_leader_id"`
	TeamLeader   *Collaborator `gorm:"foreignKey:TeamLeaderID" json:"team_leader,omitempty"`

	Collaborators []Collaborator     `gorm:"many2many:agenda_collaborators;" json:"collaborators,omitempty"`
	Assignments   []AgendaAssignment `gorm:"foreignKey:AgendaID" json:"assignments,omitempty"`

	ExtensionCount         int           `gorm:"not null;default:0" json:"extension_count"`
	ExtensionStatus        string        `gorm:"size:20;default:none" json:"extension_status"`
	ExtensionReason        string        `gorm:"type:text" json:"extension_reason"`
	RequestedFinishDate    string        `gorm:"size:10" json:"requested_finish_date"`
	RequestedFinishTime    string        `gorm:"size:5" json:"requested_finish_time"`
	ExtensionRequestedByID *uint         `json:"extension_requested_by_id"`
	ExtensionRequestedBy   *Collaborator `gorm:"foreignKey:ExtensionRequestedByID" json:"-"`
	OriginalDeadlineDate   string        `gorm:"size:10" json:"original_deadline_date"`
	OriginalDeadlineTime   string        `gorm:"size:5" json:"original_deadline_time"`
	WasMissed              bool          `json:"was_missed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Agenda) TableName() string { return "agendas" }

// StartAt is the start instant: date combined with time, or midnight.
func (a *Agenda) StartAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, a.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("agenda %d: invalid date %q: %w", a.ID, a.Date, err)
	}
	if a.Time == "" {
		return day, nil
	}
	return combine(day, a.Time, loc)
}

// FinishAt is the finish instant: the expected finish date (or start date)
// combined with the expected finish time, or the end of that day.
func (a *Agenda) FinishAt(loc *time.Location) (time.Time, error) {
	date := a.ExpectedFinishDate
	if date == "" {
		date = a.Date
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("agenda %d: invalid finish date %q: %w", a.ID, date, err)
	}
	if a.ExpectedFinishTime == "" {
		return EndOfDay(day), nil
	}
	return combine(day, a.ExpectedFinishTime, loc)
}

// Deadline returns the effective deadline date and time: expected finish
// falling back to the start values.
func (a *Agenda) Deadline() (string, string) {
	date := a.ExpectedFinishDate
	if date == "" {
		date = a.Date
	}
	t := a.ExpectedFinishTime
	if t == "" {
		t = a.Time
	}
	return date, t
}

// IsOverdue reports whether an open agenda has passed its deadline. Without
// a deadline time the agenda becomes overdue once the deadline day ends.
func (a *Agenda) IsOverdue(now time.Time, loc *time.Location) bool {
	if a.Status == AgendaStatusCompleted {
		return false
	}
	date, t := a.Deadline()
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return false
	}
	if t == "" {
		return now.After(EndOfDay(day))
	}
	deadline, err := combine(day, t, loc)
	if err != nil {
		return false
	}
	return now.After(deadline)
}

// CalculatedCategory derives the category from the planned duration in days.
func (a *Agenda) CalculatedCategory() string {
	if a.ExpectedFinishDate == "" {
		return CategoryShort
	}
	start, err1 := time.Parse(DateLayout, a.Date)
	finish, err2 := time.Parse(DateLayout, a.ExpectedFinishDate)
	if err1 != nil || err2 != nil {
		return CategoryShort
	}
	days := int(finish.Sub(start).Hours() / 24)
	switch {
	case days <= 3:
		return CategoryShort
	case days <= 10:
		return CategoryMid
	default:
		return CategoryLong
	}
}

// EffectiveCategory is the manual category when set, otherwise the calculated one.
func (a *Agenda) EffectiveCategory() string {
	if a.Category != "" {
		return a.Category
	}
	return a.CalculatedCategory()
}

// HasExtensionsLeft reports whether another extension may still be applied.
func (a *Agenda) HasExtensionsLeft() bool {
	return a.ExtensionCount < MaxExtensions
}

// AssignmentFor returns the loaded assignment for a collaborator, or nil.
func (a *Agenda) AssignmentFor(collaboratorID uint) *AgendaAssignment {
	for i := range a.Assignments {
		if a.Assignments[i].CollaboratorID == collaboratorID {
			return &a.Assignments[i]
		}
	}
	return nil
}

// IsLeader reports whether the collaborator is the team leader.
func (a *Agenda) IsLeader(collaboratorID uint) bool {
	return a.TeamLeaderID != nil && *a.TeamLeaderID == collaboratorID
}

// IsCreator reports whether the user created the agenda.
func (a *Agenda) IsCreator(userID uint) bool {
	return a.CreatedByID != nil && *a.CreatedByID == userID
}

// EndOfDay is the last representable instant of day's calendar date.
func EndOfDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), day.Location())
}

// StartOfDay is midnight of t's calendar date in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func combine(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// ValidDate reports whether s is a YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ValidClock reports whether s is an HH:MM time.
func ValidClock(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}
