package models

import (
	"fmt"
	"time"

	"github.com/huangang/agendatrack/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		// Timestamps are stored in UTC so range queries compare like with like.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// A single connection keeps the foreign_keys pragma and in-memory
		// databases shared by every query.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg, logger.Warn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Collaborator{},
		&Project{},
		&Agenda{},
		&AgendaAssignment{},
		&Notification{},
		&PushSubscription{},
		&SystemConfig{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func AutoMigrate() error {
	return Migrate(DB)
}

func GetDB() *gorm.DB {
	return DB
}

// DefaultSystemConfigs are inserted on first start; existing keys are left alone.
var DefaultSystemConfigs = []SystemConfig{
	{Key: "email_enabled", Value: "false", Type: "bool", Group: "email", Label: "Enable Email Invitations"},
	{Key: "email_smtp_host", Value: "", Type: "string", Group: "email", Label: "SMTP Host"},
	{Key: "email_smtp_port", Value: "587", Type: "int", Group: "email", Label: "SMTP Port"},
	{Key: "email_smtp_username", Value: "", Type: "string", Group: "email", Label: "SMTP Username"},
	{Key: "email_smtp_password", Value: "", Type: "string", Group: "email", Label: "SMTP Password"},
	{Key: "email_from", Value: "", Type: "string", Group: "email", Label: "From Address"},
	{Key: "email_use_tls", Value: "false", Type: "bool", Group: "email", Label: "Use Implicit TLS"},
	{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData() error {
	return Seed(DB)
}

func Seed(db *gorm.DB) error {
	for _, cfg := range DefaultSystemConfigs {
		var count int64
		db.Model(&SystemConfig{}).Where(&SystemConfig{Key: cfg.Key}).Count(&count)
		if count == 0 {
			row := cfg
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
