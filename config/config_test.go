package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileThenEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
service:
  http_port: 9000
  public_base_url: https://app.example.com
dependencies:
  postgres_url: postgres://file/db
  redis_url: redis://file:6379
billing:
  tax_rate: 20
company:
  name: Helios Solar
`)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TAX_RATE", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("port = %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("env must override file, got %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://file:6379" {
		t.Errorf("redis = %q", cfg.RedisURL)
	}
	if cfg.TaxRate != 20 {
		t.Errorf("tax rate = %v", cfg.TaxRate)
	}
	if cfg.CompanyName != "Helios Solar" {
		t.Errorf("company = %q", cfg.CompanyName)
	}
	if cfg.GatewayTimeout != 10*time.Second {
		t.Errorf("gateway timeout default = %v", cfg.GatewayTimeout)
	}
}

// The default tax rate uses the same percentage units as
// billing.ComputeTotals: 12 means 12%, not a 0.12 fraction.
func TestLoad_DefaultTaxRateIsPercent(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TAX_RATE", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TaxRate != 12 {
		t.Errorf("default tax rate = %v, want 12", cfg.TaxRate)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}
