package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int    `yaml:"port"`
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	LockGateway struct {
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	} `yaml:"lock_gateway"`

	Access struct {
		GracePeriodMinutes   int `yaml:"grace_period_minutes"`
		PasscodeLength       int `yaml:"passcode_length"`
		ResyncIntervalMin    int `yaml:"resync_interval_minutes"`
		MaxProvisionAttempts int `yaml:"max_provision_attempts"`
	} `yaml:"access"`

	Hours struct {
		Open  int `yaml:"open"`  // first bookable hour, inclusive
		Close int `yaml:"close"` // last bookable hour, exclusive (24 = midnight)
	} `yaml:"hours"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"sheets"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/studiobook.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GracePeriod is the lead time before a booking's start during which its
// passcode is already active.
func (c *Config) GracePeriod() time.Duration {
	if c.Access.GracePeriodMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Access.GracePeriodMinutes) * time.Minute
}

func (c *Config) PasscodeLength() int {
	if c.Access.PasscodeLength <= 0 {
		return 6
	}
	return c.Access.PasscodeLength
}

func (c *Config) ResyncInterval() time.Duration {
	if c.Access.ResyncIntervalMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Access.ResyncIntervalMin) * time.Minute
}

func (c *Config) GatewayTimeout() time.Duration {
	if c.LockGateway.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LockGateway.TimeoutSeconds) * time.Second
}

// BusinessHours returns the daily bookable range as hours. Close of 24
// means the window runs to midnight.
func (c *Config) BusinessHours() (open, close int) {
	open, close = c.Hours.Open, c.Hours.Close
	if close <= 0 || close > 24 {
		close = 24
	}
	if open < 0 || open >= close {
		open = 6
	}
	return open, close
}
