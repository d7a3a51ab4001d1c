package config

import (
	"os"
	"testing"
)

func unsetReactorEnv() {
	_ = os.Unsetenv("REACTOR_DB_DRIVER")
	_ = os.Unsetenv("REACTOR_POSTGRES_DSN")
	_ = os.Unsetenv("REACTOR_SQLITE_PATH")
	_ = os.Unsetenv("REACTOR_WEBHOOK_REQUIRE_SIG")
	_ = os.Unsetenv("REACTOR_WEBHOOK_SECRET")
}

func TestConfigLoad_Defaults(t *testing.T) {
	unsetReactorEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected default port: %d", cfg.HTTPPort)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("auto driver without DSN should resolve to sqlite, got %s", cfg.DBDriver)
	}
	if cfg.RetryMaxAttempts != 2 {
		t.Fatalf("unexpected default retry cap: %d", cfg.RetryMaxAttempts)
	}
}

func TestResolveDefaults_PostgresFromDSN(t *testing.T) {
	unsetReactorEnv()
	_ = os.Setenv("REACTOR_POSTGRES_DSN", "postgres://localhost:5432/reactor")
	defer unsetReactorEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("auto driver with DSN should resolve to postgres, got %s", cfg.DBDriver)
	}
}

func TestResolveDefaults_UnknownDriver(t *testing.T) {
	unsetReactorEnv()
	_ = os.Setenv("REACTOR_DB_DRIVER", "spanner")
	defer unsetReactorEnv()

	if _, err := New(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestResolveDefaults_SigRequiresSecret(t *testing.T) {
	unsetReactorEnv()
	_ = os.Setenv("REACTOR_WEBHOOK_REQUIRE_SIG", "true")
	defer unsetReactorEnv()

	if _, err := New(); err == nil {
		t.Fatalf("expected error when signature required without secret")
	}

	_ = os.Setenv("REACTOR_WEBHOOK_SECRET", "s3cret")
	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if !cfg.WebhookRequireSig {
		t.Fatalf("require sig flag lost")
	}
}
