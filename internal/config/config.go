// Package config loads the YAML configuration with ${ENV} placeholders.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bookingdesk/internal/slots"
)

// EnvPath names the variable that overrides the config file location.
const EnvPath = "BOOKINGDESK_CONFIG"

const defaultPath = "configs/config.yaml"

type Config struct {
	API struct {
		BaseURL         string `yaml:"base_url"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"api"`

	Auth struct {
		AdminEmails        []string `yaml:"admin_emails"`
		SessionPath        string   `yaml:"session_path"`
		RefreshSkewSeconds int      `yaml:"refresh_skew_seconds"`
	} `yaml:"auth"`

	Schedule struct {
		BufferMinutes     *int    `yaml:"buffer_minutes"`
		BulkConcurrency   int     `yaml:"bulk_concurrency"`
		BulkRatePerSecond float64 `yaml:"bulk_rate_per_second"`
	} `yaml:"schedule"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken            string `yaml:"bot_token"`
		ChatID              int64  `yaml:"chat_id"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		Debug               bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`
}

// Path returns the config file location, honouring BOOKINGDESK_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return defaultPath
}

// Load reads .env (if present) and then the YAML file at path.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	if path == "" {
		path = Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 10
	}
	if c.Auth.SessionPath == "" {
		c.Auth.SessionPath = "data/session.db"
	}
	if c.Auth.RefreshSkewSeconds == 0 {
		c.Auth.RefreshSkewSeconds = 60
	}
	if c.Schedule.BufferMinutes == nil {
		buffer := slots.DefaultBufferMinutes
		c.Schedule.BufferMinutes = &buffer
	}
	if c.Schedule.BulkConcurrency <= 0 {
		c.Schedule.BulkConcurrency = 6
	}
	if c.Telegram.PollIntervalSeconds <= 0 {
		c.Telegram.PollIntervalSeconds = 300
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.Schedule.BufferMinutes != nil && *c.Schedule.BufferMinutes < 0 {
		errs = append(errs, errors.New("schedule.buffer_minutes must not be negative"))
	}
	if c.Schedule.BulkRatePerSecond < 0 {
		errs = append(errs, errors.New("schedule.bulk_rate_per_second must not be negative"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when bot_token is set"))
	}
	return errors.Join(errs...)
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.API.CacheTTLSeconds) * time.Second
}

func (c *Config) RefreshSkew() time.Duration {
	if c.Auth.RefreshSkewSeconds < 0 {
		return 0
	}
	return time.Duration(c.Auth.RefreshSkewSeconds) * time.Second
}

func (c *Config) Buffer() int {
	if c.Schedule.BufferMinutes == nil {
		return slots.DefaultBufferMinutes
	}
	return *c.Schedule.BufferMinutes
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Telegram.PollIntervalSeconds) * time.Second
}

// Location resolves the configured timezone; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
