// Package config loads the typed opsflow configuration from viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/opsflow/internal/common"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Rate limiter backends.
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// TLS modes for the HTTP server.
const (
	TLSOff        = "off"
	TLSSelfSigned = "self-signed"
	TLSFiles      = "files"
)

// Config is the typed view over everything read through viper.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	AI        AIConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
}

// DatabaseConfig selects and locates the canonical store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// ServerConfig configures the HTTP interface.
type ServerConfig struct {
	TLS          TLSConfig
	Addr         string
	ServiceToken string
	CORSOrigins  []string
}

// TLSConfig selects how the HTTP server gets its certificate.
type TLSConfig struct {
	Mode     string
	CertFile string
	KeyFile  string
	CertDir  string
	Hosts    []string
}

// PipelineConfig tunes the orchestrator and the policy stage.
type PipelineConfig struct {
	ApprovalThreshold float64
	StageTimeout      time.Duration
	RedriveInterval   time.Duration
}

// RateLimitConfig configures per-company ingestion limits.
type RateLimitConfig struct {
	Backend   string
	RedisAddr string
	RPS       float64
	Burst     int
}

// AIConfig configures the receipt scanner's completion service.
type AIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
}

// TelemetryConfig selects a trace exporter.
type TelemetryConfig struct {
	Traces string
}

// LoggingConfig mirrors the --log-level and --log-format flags.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", filepath.Join(DataDir(), "opsflow.db"))
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.tls.mode", TLSOff)
	v.SetDefault("server.tls.cert_dir", filepath.Join(ConfigDir(), "certs"))
	v.SetDefault("pipeline.approval_threshold", 1000.0)
	v.SetDefault("pipeline.stage_timeout", time.Duration(0))
	v.SetDefault("pipeline.redrive_interval", time.Minute)
	v.SetDefault("ratelimit.backend", LimiterMemory)
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("telemetry.traces", "none")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads a Config from v, applying defaults and validating the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			Path:   ExpandPath(v.GetString("database.path")),
			DSN:    v.GetString("database.dsn"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			ServiceToken: v.GetString("server.service_token"),
			CORSOrigins:  v.GetStringSlice("server.cors_origins"),
			TLS: TLSConfig{
				Mode:     strings.ToLower(v.GetString("server.tls.mode")),
				CertFile: ExpandPath(v.GetString("server.tls.cert_file")),
				KeyFile:  ExpandPath(v.GetString("server.tls.key_file")),
				CertDir:  ExpandPath(v.GetString("server.tls.cert_dir")),
				Hosts:    v.GetStringSlice("server.tls.hosts"),
			},
		},
		Pipeline: PipelineConfig{
			ApprovalThreshold: v.GetFloat64("pipeline.approval_threshold"),
			StageTimeout:      v.GetDuration("pipeline.stage_timeout"),
			RedriveInterval:   v.GetDuration("pipeline.redrive_interval"),
		},
		RateLimit: RateLimitConfig{
			Backend:   strings.ToLower(v.GetString("ratelimit.backend")),
			RedisAddr: v.GetString("ratelimit.redis_addr"),
			RPS:       v.GetFloat64("ratelimit.rps"),
			Burst:     v.GetInt("ratelimit.burst"),
		},
		AI: AIConfig{
			APIKey:     v.GetString("ai.api_key"),
			Model:      v.GetString("ai.model"),
			BaseURL:    v.GetString("ai.base_url"),
			MaxRetries: v.GetInt("ai.max_retries"),
		},
		Telemetry: TelemetryConfig{
			Traces: strings.ToLower(v.GetString("telemetry.traces")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite3", common.ErrMissingConfig)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported database.driver %q", common.ErrInvalidConfig, c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case LimiterMemory:
	case LimiterRedis:
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("%w: ratelimit.redis_addr is required for the redis backend", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported ratelimit.backend %q", common.ErrInvalidConfig, c.RateLimit.Backend)
	}

	switch c.Server.TLS.Mode {
	case TLSOff, "":
	case TLSSelfSigned:
		if c.Server.TLS.CertDir == "" {
			return fmt.Errorf("%w: server.tls.cert_dir is required for self-signed TLS", common.ErrMissingConfig)
		}
	case TLSFiles:
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("%w: server.tls.cert_file and server.tls.key_file are required", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported server.tls.mode %q", common.ErrInvalidConfig, c.Server.TLS.Mode)
	}

	if c.Pipeline.ApprovalThreshold <= 0 {
		return fmt.Errorf("%w: pipeline.approval_threshold must be positive", common.ErrInvalidConfig)
	}
	if c.Pipeline.StageTimeout < 0 {
		return fmt.Errorf("%w: pipeline.stage_timeout must not be negative", common.ErrInvalidConfig)
	}

	switch c.Telemetry.Traces {
	case "none", "stdout":
	default:
		return fmt.Errorf("%w: unsupported telemetry.traces %q", common.ErrInvalidConfig, c.Telemetry.Traces)
	}
	return nil
}
