package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Session    SessionConfig    `yaml:"session"`
	Controller ControllerConfig `yaml:"controller"`
	Loyalty    LoyaltyConfig    `yaml:"loyalty"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres" or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// SessionConfig tunes the metering loop.
type SessionConfig struct {
	TickIntervalMs         int           `yaml:"tick_interval_ms"`
	TickInterval           time.Duration `yaml:"-"`
	InactivitySeconds      int           `yaml:"inactivity_seconds"`
	Inactivity             time.Duration `yaml:"-"`
	IdempotencyTTLSeconds  int           `yaml:"idempotency_ttl_seconds"`
	IdempotencyTTL         time.Duration `yaml:"-"`
	SettlementRetrySeconds int           `yaml:"settlement_retry_seconds"`
	SettlementRetry        time.Duration `yaml:"-"`
	Timezone               string        `yaml:"timezone"`
}

// ControllerConfig holds the controller polling settings.
type ControllerConfig struct {
	OnlineWindowSeconds int           `yaml:"online_window_seconds"`
	OnlineWindow        time.Duration `yaml:"-"`
	PollLimit           int           `yaml:"poll_limit"`
}

// LoyaltyConfig holds card balance limits.
type LoyaltyConfig struct {
	MaxCardBalance float64 `yaml:"max_card_balance"`
}

// CatalogConfig controls how long catalog lookups are cached.
type CatalogConfig struct {
	TTLSeconds int           `yaml:"ttl_seconds"`
	TTL        time.Duration `yaml:"-"`
}

// MQTTConfig configures the optional session state publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Session.TickIntervalMs <= 0 {
		cfg.Session.TickIntervalMs = 1000
	}
	cfg.Session.TickInterval = time.Duration(cfg.Session.TickIntervalMs) * time.Millisecond
	if cfg.Session.InactivitySeconds <= 0 {
		cfg.Session.InactivitySeconds = 600
	}
	cfg.Session.Inactivity = time.Duration(cfg.Session.InactivitySeconds) * time.Second
	if cfg.Session.IdempotencyTTLSeconds <= 0 {
		cfg.Session.IdempotencyTTLSeconds = 600
	}
	cfg.Session.IdempotencyTTL = time.Duration(cfg.Session.IdempotencyTTLSeconds) * time.Second
	if cfg.Session.SettlementRetrySeconds <= 0 {
		cfg.Session.SettlementRetrySeconds = 30
	}
	cfg.Session.SettlementRetry = time.Duration(cfg.Session.SettlementRetrySeconds) * time.Second
	if cfg.Session.Timezone == "" {
		cfg.Session.Timezone = "Local"
	}

	if cfg.Controller.OnlineWindowSeconds <= 0 {
		cfg.Controller.OnlineWindowSeconds = 60
	}
	cfg.Controller.OnlineWindow = time.Duration(cfg.Controller.OnlineWindowSeconds) * time.Second
	if cfg.Controller.PollLimit <= 0 {
		cfg.Controller.PollLimit = 10
	}

	if cfg.Loyalty.MaxCardBalance <= 0 {
		cfg.Loyalty.MaxCardBalance = 1000000
	}

	if cfg.Catalog.TTLSeconds <= 0 {
		cfg.Catalog.TTLSeconds = 30
	}
	cfg.Catalog.TTL = time.Duration(cfg.Catalog.TTLSeconds) * time.Second

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "carwash-backend"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "carwash/bays"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
