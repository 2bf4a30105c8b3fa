// Package config loads the control plane's process-wide configuration
// from environment variables and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ServerConfig controls the agent/admin HTTP listener.
type ServerConfig struct {
	Host           string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port           int           `env:"SERVER_PORT,default=8443"`
	APIVersion     string        `env:"API_VERSION,default=v1"`
	MaxFileSize    int64         `env:"MAX_FILE_SIZE,default=10485760"`
	SessionTimeout time.Duration `env:"SESSION_TIMEOUT,default=30m"`
	ServerURL      string        `env:"SERVER_URL"`
	ConsoleURL     string        `env:"CONSOLE_URL"`
}

// DatabaseConfig controls the PostgreSQL connection used by internal/storage.
type DatabaseConfig struct {
	DSN           string `env:"DATABASE_DSN"`
	Host          string `env:"DATABASE_HOST,default=localhost"`
	Port          int    `env:"DATABASE_PORT,default=5432"`
	User          string `env:"DATABASE_USER,default=postgres"`
	Password      string `env:"DATABASE_PASSWORD"`
	Name          string `env:"DATABASE_NAME,default=controlplane"`
	SSLMode       string `env:"DATABASE_SSLMODE,default=disable"`
	MaxOpenConns  int    `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns  int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	EncryptionKey string `env:"DB_ENCRYPTION_KEY"`
}

// ConnectionString builds a libpq connection string from host parameters,
// used when DSN is not set directly.
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig controls the KV store connection backing nonces, rate
// limits, the command queue, and the enrollment token cache.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// SecurityConfig controls the cryptographic parameters of the agent
// protocol and the administrator surface.
type SecurityConfig struct {
	EnrollmentSecret  string        `env:"ENROLLMENT_SECRET"`
	JWTSecret         string        `env:"JWT_SECRET"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	ServerPublicKey   string        `env:"SERVER_PUBLIC_KEY"`
	AdminAPIKey       string        `env:"ADMIN_API_KEY"`
	AdminPassword     string        `env:"ADMIN_PASSWORD"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=60s"`
	NonceWindow       time.Duration `env:"NONCE_WINDOW,default=5m"`
}

// Config is the top-level process configuration.
type Config struct {
	Env      Environment `env:"ENVIRONMENT,default=development"`
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Security SecurityConfig
}

// Load reads an optional .env file then decodes environment variables into
// a Config, applying the defaults declared in each field's env tag.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields were present in the
		// environment; treat that as "defaults only" rather than a
		// hard failure, since every field also carries a default.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the process is configured to run in the
// development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsTesting reports whether the process is configured to run in the
// testing environment, where the enrollmenttoken.TestTokenPrefix carve-out
// applies (spec.md §3).
func (c *Config) IsTesting() bool {
	return c.Env == Testing
}

// IsProduction reports whether the process is configured to run in the
// production environment.
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate enforces the invariants production deployments require and
// that are otherwise easy to start up with silently missing.
func (c *Config) Validate() error {
	switch c.Env {
	case Development, Testing, Production:
	default:
		return fmt.Errorf("invalid ENVIRONMENT: %s", c.Env)
	}

	if c.IsProduction() {
		if c.Security.EnrollmentSecret == "" {
			return fmt.Errorf("ENROLLMENT_SECRET must be set in production")
		}
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Security.AdminPassword == "" {
			return fmt.Errorf("ADMIN_PASSWORD must be set in production")
		}
	}

	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_DSN or DATABASE_HOST must be set")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}

	return nil
}
