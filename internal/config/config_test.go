package config

import (
	"os"
	"testing"
)

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := &Config{Env: "staging", Database: DatabaseConfig{Host: "localhost"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an unknown ENVIRONMENT value to be rejected")
	}
}

func TestValidateRequiresSecretsInProduction(t *testing.T) {
	cfg := &Config{Env: Production, Server: ServerConfig{Port: 8443}, Database: DatabaseConfig{Host: "localhost"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected production to require ENROLLMENT_SECRET/JWT_SECRET/ADMIN_PASSWORD")
	}

	cfg.Security = SecurityConfig{EnrollmentSecret: "s", JWTSecret: "j", AdminPassword: "p"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected fully configured production config to validate, got %v", err)
	}
}

func TestValidateRequiresDatabaseTarget(t *testing.T) {
	cfg := &Config{Env: Development, Server: ServerConfig{Port: 8443}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing DATABASE_DSN/DATABASE_HOST to be rejected")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "SERVER_PORT", "DATABASE_HOST"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != Development {
		t.Fatalf("expected default ENVIRONMENT=development, got %s", cfg.Env)
	}
	if cfg.Server.Port != 8443 {
		t.Fatalf("expected default SERVER_PORT=8443, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Fatalf("expected default DATABASE_HOST=localhost, got %s", cfg.Database.Host)
	}
}

func TestConnectionStringPrefersDSN(t *testing.T) {
	cfg := DatabaseConfig{DSN: "postgres://explicit", Host: "localhost"}
	if got := cfg.ConnectionString(); got != "postgres://explicit" {
		t.Fatalf("expected explicit DSN to win, got %s", got)
	}
}
