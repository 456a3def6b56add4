package services

import (
	"encoding/json"
	"time"

	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/pkg/logger"
	"gorm.io/gorm"
)

var auditDB *gorm.DB

// InitSystemLogger sets the database the audit helpers write to.
func InitSystemLogger(db *gorm.DB) {
	auditDB = db
}

// AuditEntry is one row for the audit trail.
type AuditEntry struct {
	Module     string
	Action     string
	Message    string
	UserID     *uint
	ResourceID *uint
	Status     int
	IP         string
	UserAgent  string
	Extra      interface{}
}

func LogInfo(e AuditEntry)    { writeLog("info", e) }
func LogWarning(e AuditEntry) { writeLog("warning", e) }
func LogError(e AuditEntry)   { writeLog("error", e) }

func writeLog(level string, e AuditEntry) {
	if auditDB == nil {
		return
	}

	var extra string
	if e.Extra != nil {
		if b, err := json.Marshal(e.Extra); err == nil {
			extra = string(b)
		}
	}

	row := &models.SystemLog{
		Level:      level,
		Module:     e.Module,
		Action:     e.Action,
		Message:    e.Message,
		UserID:     e.UserID,
		ResourceID: e.ResourceID,
		Status:     e.Status,
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		Extra:      extra,
		CreatedAt:  time.Now().UTC(),
	}
	if err := auditDB.Create(row).Error; err != nil {
		logger.Warn().Err(err).Str("module", e.Module).Msg("[SystemLog] audit write failed")
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

type SystemLogListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	UserID    uint   `form:"user_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.SystemLog{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.UserID != 0 {
		query = query.Where("user_id = ?", req.UserID)
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

// CleanupOldLogs deletes rows older than retentionDays and returns how many.
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RunCleanup applies the log_retention_days setting.
func (s *SystemLogService) RunCleanup() {
	days := NewSystemConfigService(s.db).GetInt("log_retention_days", 30)
	if days <= 0 {
		logger.Debug().Msg("[SystemLog] cleanup disabled")
		return
	}

	deleted, err := s.CleanupOldLogs(days)
	if err != nil {
		logger.Error().Err(err).Msg("[SystemLog] cleanup failed")
		return
	}
	if deleted > 0 {
		logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, days)
	}
}

// Modules lists the distinct module names present in the log.
func (s *SystemLogService) Modules() ([]string, error) {
	var modules []string
	err := s.db.Model(&models.SystemLog{}).
		Distinct("module").
		Order("module").
		Pluck("module", &modules).Error
	return modules, err
}
