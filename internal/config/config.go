// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend drivers.
const (
	BackendRemote  = "remote"
	BackendFixture = "fixture"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Remote        RemoteConfig        `yaml:"remote"`
	Fixtures      FixturesConfig      `yaml:"fixtures"`
	Autosave      AutosaveConfig      `yaml:"autosave"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	SchemaCache   CacheConfig         `yaml:"schema_cache"`
	Progress      ProgressConfig      `yaml:"progress"`
	Events        EventsConfig        `yaml:"events"`
	Identity      IdentityConfig      `yaml:"identity"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig selects the implementation of the case service.
type BackendConfig struct {
	Driver string `yaml:"driver"`
}

// RemoteConfig describes the remote case service.
type RemoteConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	SpecFile       string               `yaml:"spec_file"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings. Only idempotent operations are
// retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// FixturesConfig describes the YAML fixture backend.
type FixturesConfig struct {
	Directory string `yaml:"directory"`
	HotReload bool   `yaml:"hot_reload"`
}

// AutosaveConfig holds the fixed debounce delays.
type AutosaveConfig struct {
	FieldDebounce time.Duration `yaml:"field_debounce"`
	NotesDebounce time.Duration `yaml:"notes_debounce"`
	SavedDisplay  time.Duration `yaml:"saved_display"`
}

// SessionsConfig bounds the wizard sessions kept in memory.
type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ProgressConfig describes where resume positions are stored.
type ProgressConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	DSNEnv  string        `yaml:"dsn_env"`
	TTL     time.Duration `yaml:"ttl"`
}

// EventsConfig describes domain event publication.
type EventsConfig struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// IdentityConfig describes how caller identity is read from forwarded
// credentials. Tokens are not verified locally; the case service is the
// authority.
type IdentityConfig struct {
	RequireCredentials bool              `yaml:"require_credentials"`
	CookieName         string            `yaml:"cookie_name"`
	ClaimPaths         map[string]string `yaml:"claim_paths"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`

	// RedactFields names field keys masked in debug payload logs, on top of
	// the built-in credential names.
	RedactFields []string `yaml:"redact_fields"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{Driver: BackendRemote},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Fixtures: FixturesConfig{Directory: "fixtures"},
		Autosave: AutosaveConfig{
			FieldDebounce: 600 * time.Millisecond,
			NotesDebounce: 1500 * time.Millisecond,
			SavedDisplay:  2 * time.Second,
		},
		Sessions: SessionsConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   10000,
		},
		SchemaCache: CacheConfig{
			TTL:        10 * time.Minute,
			MaxEntries: 500,
		},
		Progress: ProgressConfig{
			Driver:  "memory",
			AddrEnv: "CASEWIZARD_REDIS_ADDR",
			DSNEnv:  "CASEWIZARD_DATABASE_URL",
			TTL:     30 * 24 * time.Hour,
		},
		Events: EventsConfig{
			Driver:        "none",
			SubjectPrefix: "casewizard",
		},
		Identity: IdentityConfig{
			RequireCredentials: true,
			CookieName:         "session",
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			LogFile: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Backend.Driver {
	case BackendRemote:
		if c.Remote.BaseURL == "" {
			errs = append(errs, "remote.base_url is required when backend.driver is remote")
		}
	case BackendFixture:
		if c.Fixtures.Directory == "" {
			errs = append(errs, "fixtures.directory is required when backend.driver is fixture")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.driver %q is not one of remote, fixture", c.Backend.Driver))
	}

	if c.Autosave.FieldDebounce <= 0 {
		errs = append(errs, "autosave.field_debounce must be positive")
	}
	if c.Autosave.NotesDebounce <= 0 {
		errs = append(errs, "autosave.notes_debounce must be positive")
	}
	if c.Autosave.SavedDisplay <= 0 {
		errs = append(errs, "autosave.saved_display must be positive")
	}
	if c.Sessions.IdleTTL <= 0 {
		errs = append(errs, "sessions.idle_ttl must be positive")
	}

	switch c.Progress.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("progress.driver %q is not one of memory, redis, postgres", c.Progress.Driver))
	}

	switch c.Events.Driver {
	case "none", "":
	case "nats":
		if c.Events.URL == "" {
			errs = append(errs, "events.url is required when events.driver is nats")
		}
	default:
		errs = append(errs, fmt.Sprintf("events.driver %q is not one of none, nats", c.Events.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CASEWIZARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEWIZARD_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CASEWIZARD_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("CASEWIZARD_BACKEND_DRIVER"); v != "" {
		cfg.Backend.Driver = v
	}
	if v := os.Getenv("CASEWIZARD_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CASEWIZARD_NATS_URL"); v != "" {
		cfg.Events.URL = v
		if cfg.Events.Driver == "" || cfg.Events.Driver == "none" {
			cfg.Events.Driver = "nats"
		}
	}
}
