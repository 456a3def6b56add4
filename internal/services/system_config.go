package services

import (
	"errors"
	"strconv"
	"strings"

	"github.com/huangang/agendatrack/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) GetBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(s.GetWithDefault(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(s.GetWithDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// Set writes key, creating it in the "general" group when missing.
func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{Key: key, Value: value, Group: "general"}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// EmailConfig holds the SMTP settings of the "email" group.
type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	UseTLS   bool   `json:"use_tls"`
}

func (s *SystemConfigService) GetEmailConfig() *EmailConfig {
	cfg := &EmailConfig{Port: 587}
	configs, _ := s.GetByGroup("email")
	for _, c := range configs {
		switch c.Key {
		case "email_enabled":
			cfg.Enabled = c.Value == "true"
		case "email_smtp_host":
			cfg.Host = c.Value
		case "email_smtp_port":
			if port, err := strconv.Atoi(c.Value); err == nil && port > 0 {
				cfg.Port = port
			}
		case "email_smtp_username":
			cfg.Username = c.Value
		case "email_smtp_password":
			cfg.Password = c.Value
		case "email_from":
			cfg.From = c.Value
		case "email_use_tls":
			cfg.UseTLS = c.Value == "true"
		}
	}
	return cfg
}

type UpdateEmailConfigRequest struct {
	Enabled  *bool   `json:"enabled"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	From     *string `json:"from"`
	UseTLS   *bool   `json:"use_tls"`
}

// UpdateEmailConfig writes the provided fields. An empty password keeps the
// stored one.
func (s *SystemConfigService) UpdateEmailConfig(req *UpdateEmailConfigRequest) error {
	updates := map[string]string{}
	if req.Enabled != nil {
		updates["email_enabled"] = strconv.FormatBool(*req.Enabled)
	}
	if req.Host != nil {
		updates["email_smtp_host"] = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		updates["email_smtp_port"] = strconv.Itoa(*req.Port)
	}
	if req.Username != nil {
		updates["email_smtp_username"] = *req.Username
	}
	if req.Password != nil && *req.Password != "" {
		updates["email_smtp_password"] = *req.Password
	}
	if req.From != nil {
		updates["email_from"] = strings.TrimSpace(*req.From)
	}
	if req.UseTLS != nil {
		updates["email_use_tls"] = strconv.FormatBool(*req.UseTLS)
	}
	for k, v := range updates {
		if err := s.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
