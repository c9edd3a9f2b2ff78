package services

import (
	"errors"

	"github.com/huangang/testsentry/internal/models"
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
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
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

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

type EmailConfigResponse struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Username    string `json:"username"`
	From        string `json:"from"`
	UseTLS      bool   `json:"use_tls"`
	PasswordSet bool   `json:"password_set"`
}

func (s *SystemConfigService) GetEmailConfig() *EmailConfigResponse {
	return &EmailConfigResponse{
		Enabled:     s.GetWithDefault("email_enabled", "false") == "true",
		Host:        s.GetWithDefault("email_host", ""),
		Port:        s.GetWithDefault("email_port", "587"),
		Username:    s.GetWithDefault("email_username", ""),
		From:        s.GetWithDefault("email_from", ""),
		UseTLS:      s.GetWithDefault("email_use_tls", "true") == "true",
		PasswordSet: s.GetWithDefault("email_password", "") != "",
	}
}

type UpdateEmailConfigRequest struct {
	Enabled  *bool   `json:"enabled"`
	Host     *string `json:"host"`
	Port     *string `json:"port"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	From     *string `json:"from"`
	UseTLS   *bool   `json:"use_tls"`
}

func (s *SystemConfigService) UpdateEmailConfig(req *UpdateEmailConfigRequest) error {
	set := func(key string, value *string) error {
		if value == nil {
			return nil
		}
		return s.Set(key, *value)
	}
	setBool := func(key string, value *bool) error {
		if value == nil {
			return nil
		}
		if *value {
			return s.Set(key, "true")
		}
		return s.Set(key, "false")
	}

	if err := setBool("email_enabled", req.Enabled); err != nil {
		return err
	}
	if err := set("email_host", req.Host); err != nil {
		return err
	}
	if err := set("email_port", req.Port); err != nil {
		return err
	}
	if err := set("email_username", req.Username); err != nil {
		return err
	}
	if req.Password != nil && *req.Password != "" {
		if err := s.Set("email_password", *req.Password); err != nil {
			return err
		}
	}
	if err := set("email_from", req.From); err != nil {
		return err
	}
	return setBool("email_use_tls", req.UseTLS)
}
