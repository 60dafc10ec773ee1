package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	IPC       IPCConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Bundle    BundleConfig
	Ability   AbilityConfig
	Form      FormConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// IPCConfig holds the gRPC transport listener configuration.
type IPCConfig struct {
	Address string `envconfig:"IPC_ADDR" default:"localhost:50061"`
	Enabled bool   `envconfig:"IPC_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// StorageConfig holds the persistent form store location.
type StorageConfig struct {
	FormDBPath string `envconfig:"FORM_DB_PATH" default:"/tmp/framework/forms.db"`
}

// BundleConfig points at the bundle catalog.
type BundleConfig struct {
	CatalogPath string `envconfig:"BUNDLE_CATALOG" default:""`
}

// AbilityConfig holds lifecycle timing and the root launcher policy.
type AbilityConfig struct {
	RestartMax        int           `envconfig:"ROOT_LAUNCHER_RESTART_MAX" default:"3"`
	DataLoadTimeout   time.Duration `envconfig:"DATA_ABILITY_LOAD_TIMEOUT" default:"11s"`
	LoadTimeout       time.Duration `envconfig:"ABILITY_LOAD_TIMEOUT" default:"10s"`
	ActiveTimeout     time.Duration `envconfig:"ABILITY_ACTIVE_TIMEOUT" default:"5s"`
	InactiveTimeout   time.Duration `envconfig:"ABILITY_INACTIVE_TIMEOUT" default:"500ms"`
	BackgroundTimeout time.Duration `envconfig:"ABILITY_BACKGROUND_TIMEOUT" default:"3s"`
	TerminateTimeout  time.Duration `envconfig:"ABILITY_TERMINATE_TIMEOUT" default:"6s"`
	ForegroundTimeout time.Duration `envconfig:"ABILITY_FOREGROUND_TIMEOUT" default:"5s"`
}

// FormConfig holds form quotas and refresh policy.
type FormConfig struct {
	MaxForms        int    `envconfig:"FORM_MAX_FORMS" default:"512"`
	MaxRecordPerApp int    `envconfig:"FORM_MAX_RECORD_PER_APP" default:"256"`
	MaxTempForms    int    `envconfig:"FORM_MAX_TEMP_FORMS" default:"256"`
	RefreshLimit    int    `envconfig:"FORM_REFRESH_LIMIT" default:"50"`
	MaxDataSize     int    `envconfig:"FORM_MAX_DATA_SIZE" default:"1024"`
	DeviceID        string `envconfig:"DEVICE_ID" default:"local-device"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		IPC: IPCConfig{
			Address: "localhost:50061",
			Enabled: true,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Storage: StorageConfig{
			FormDBPath: "/tmp/framework/forms.db",
		},
		Ability: AbilityConfig{
			RestartMax:        3,
			DataLoadTimeout:   11 * time.Second,
			LoadTimeout:       10 * time.Second,
			ActiveTimeout:     5 * time.Second,
			InactiveTimeout:   500 * time.Millisecond,
			BackgroundTimeout: 3 * time.Second,
			TerminateTimeout:  6 * time.Second,
			ForegroundTimeout: 5 * time.Second,
		},
		Form: FormConfig{
			MaxForms:        512,
			MaxRecordPerApp: 256,
			MaxTempForms:    256,
			RefreshLimit:    50,
			MaxDataSize:     1024,
			DeviceID:        "local-device",
		},
	}
}
