// Package config loads the daemon configuration: config.yaml under the
// goconcierge home directory, with environment-variable overrides applied on
// top and a file watcher for hot reload.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-concierge/internal/otel"
)

// BreakerConfig tunes the reply-generation circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`     // consecutive failures before opening (default 5)
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"` // open duration before a half-open probe (default 60)
}

// GeneratorConfig configures the primary LLM responder. An empty APIKey
// disables the primary; every reply then uses the template fallback.
type GeneratorConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // custom endpoint (e.g. a proxy)
	Model   string `yaml:"model"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
}

// InstagramConfig holds Instagram Messaging API credentials.
type InstagramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AccessToken string `yaml:"access_token"`
	PageID      string `yaml:"page_id"`
}

// TelegramConfig holds the operator alert bot credentials.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// ChannelsConfig groups the channel credentials.
type ChannelsConfig struct {
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Instagram InstagramConfig `yaml:"instagram"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// MaintenanceConfig tunes the housekeeping sweeps.
type MaintenanceConfig struct {
	JobRetentionDays      int `yaml:"job_retention_days"`      // default 30
	StaleClaimAgeMinutes  int `yaml:"stale_claim_age_minutes"` // default 10
	RecoveryWindowMinutes int `yaml:"recovery_window_minutes"` // default 30
}

// Config is the full daemon configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath              string `yaml:"db_path"`
	LogLevel            string `yaml:"log_level"`
	WorkerCount         int    `yaml:"worker_count"`
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	MaxIterations       int    `yaml:"max_iterations"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`

	Breaker     BreakerConfig     `yaml:"breaker"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Otel        otel.Config       `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:            "info",
		WorkerCount:         4,
		PollIntervalMs:      500,
		MaxIterations:       5,
		DrainTimeoutSeconds: 5,
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeoutSeconds: 60,
		},
		Generator: GeneratorConfig{
			Model: "gpt-4o-mini",
		},
		Maintenance: MaintenanceConfig{
			JobRetentionDays:      30,
			StaleClaimAgeMinutes:  10,
			RecoveryWindowMinutes: 30,
		},
	}
}

// HomeDir returns the goconcierge home directory, honoring the
// GOCONCIERGE_HOME override.
func HomeDir() string {
	if override := os.Getenv("GOCONCIERGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".goconcierge")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, applies environment
// overrides and normalizes defaults. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create goconcierge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "goconcierge.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 500
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeoutSeconds <= 0 {
		cfg.Breaker.ResetTimeoutSeconds = 60
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o-mini"
	}
	if cfg.Maintenance.JobRetentionDays <= 0 {
		cfg.Maintenance.JobRetentionDays = 30
	}
	if cfg.Maintenance.StaleClaimAgeMinutes <= 0 {
		cfg.Maintenance.StaleClaimAgeMinutes = 10
	}
	if cfg.Maintenance.RecoveryWindowMinutes <= 0 {
		cfg.Maintenance.RecoveryWindowMinutes = 30
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("GOCONCIERGE_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("GOCONCIERGE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GOCONCIERGE_WORKER_COUNT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = v
		}
	}
	if raw := os.Getenv("GOCONCIERGE_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.PollIntervalMs = v
		}
	}
	if raw := os.Getenv("GOCONCIERGE_MAX_ITERATIONS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxIterations = v
		}
	}
	if raw := os.Getenv("GOCONCIERGE_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("GOCONCIERGE_BREAKER_FAILURE_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Breaker.FailureThreshold = v
		}
	}
	if raw := os.Getenv("GOCONCIERGE_BREAKER_RESET_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Breaker.ResetTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("OPENAI_API_KEY"); raw != "" {
		cfg.Generator.APIKey = raw
	}
	if raw := os.Getenv("OPENAI_MODEL"); raw != "" {
		cfg.Generator.Model = raw
	}
	if raw := os.Getenv("WHATSAPP_ACCESS_TOKEN"); raw != "" {
		cfg.Channels.WhatsApp.AccessToken = raw
	}
	if raw := os.Getenv("INSTAGRAM_ACCESS_TOKEN"); raw != "" {
		cfg.Channels.Instagram.AccessToken = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Channels.Telegram.ChatID = v
		}
	}
}

// Fingerprint returns a stable hash of the knobs that change runtime
// behavior, for logging which configuration a process is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|poll=%d|iters=%d|breaker=%d/%d|log=%s|model=%s",
		c.WorkerCount, c.PollIntervalMs, c.MaxIterations,
		c.Breaker.FailureThreshold, c.Breaker.ResetTimeoutSeconds,
		c.LogLevel, c.Generator.Model)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
