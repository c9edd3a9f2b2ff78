package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	LDAP       LDAPConfig       `yaml:"ldap"`
	Invitation InvitationConfig `yaml:"invitation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BaseDN       string `yaml:"base_dn"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserFilter   string `yaml:"user_filter"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// InvitationConfig controls invitation lifetime and the link embedded in
// invitation emails.
type InvitationConfig struct {
	ExpireDays int    `yaml:"expire_days"`
	BaseURL    string `yaml:"base_url"` // e.g. https://testsentry.example.com
}

// ExpireAfter returns the invitation validity window as a duration.
func (c *InvitationConfig) ExpireAfter() time.Duration {
	days := c.ExpireDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// RateLimitConfig holds the fixed-window limits for each guarded route
// class. Zero values fall back to the defaults in DefaultConfig.
type RateLimitConfig struct {
	LoginPer15Min         int `yaml:"login_per_15min"`
	RegisterPer15Min      int `yaml:"register_per_15min"`
	InvitesPerHour        int `yaml:"invites_per_hour"`
	PasswordResetsPerHour int `yaml:"password_resets_per_hour"`
	APIPerMinute          int `yaml:"api_per_minute"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	cfg.applyDefaults()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "testsentry.db",
		},
		JWT: JWTConfig{
			Secret:     "testsentry-secret-key-change-in-production",
			ExpireHour: 24,
		},
		LDAP: LDAPConfig{
			Enabled:    false,
			Port:       389,
			UserFilter: "(uid=%s)",
		},
		Invitation: InvitationConfig{
			ExpireDays: 7,
			BaseURL:    "http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			LoginPer15Min:         10,
			RegisterPer15Min:      5,
			InvitesPerHour:        5,
			PasswordResetsPerHour: 3,
			APIPerMinute:          120,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// applyDefaults fills in zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Mode == "" {
		c.Server.Mode = def.Server.Mode
	}
	if c.Database.Driver == "" {
		c.Database = def.Database
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = def.JWT.Secret
	}
	if c.JWT.ExpireHour <= 0 {
		c.JWT.ExpireHour = def.JWT.ExpireHour
	}
	if c.Invitation.ExpireDays <= 0 {
		c.Invitation.ExpireDays = def.Invitation.ExpireDays
	}
	if c.Invitation.BaseURL == "" {
		c.Invitation.BaseURL = def.Invitation.BaseURL
	}
	if c.RateLimit.LoginPer15Min <= 0 {
		c.RateLimit.LoginPer15Min = def.RateLimit.LoginPer15Min
	}
	if c.RateLimit.RegisterPer15Min <= 0 {
		c.RateLimit.RegisterPer15Min = def.RateLimit.RegisterPer15Min
	}
	if c.RateLimit.InvitesPerHour <= 0 {
		c.RateLimit.InvitesPerHour = def.RateLimit.InvitesPerHour
	}
	if c.RateLimit.PasswordResetsPerHour <= 0 {
		c.RateLimit.PasswordResetsPerHour = def.RateLimit.PasswordResetsPerHour
	}
	if c.RateLimit.APIPerMinute <= 0 {
		c.RateLimit.APIPerMinute = def.RateLimit.APIPerMinute
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if baseURL := os.Getenv("INVITE_BASE_URL"); baseURL != "" {
		c.Invitation.BaseURL = baseURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	// Remove redis:// prefix
	url := strings.TrimPrefix(redisURL, "redis://")

	// Extract password if present
	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	// Extract db number if present
	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	// Remaining is host:port
	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
