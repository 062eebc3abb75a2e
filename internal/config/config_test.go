package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 5001 {
		t.Errorf("expected default port 5001, got %d", cfg.Port)
	}
	if cfg.ListenAddr() != "0.0.0.0:5001" {
		t.Errorf("unexpected listen address %s", cfg.ListenAddr())
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %s", cfg.RequestTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.LogoPath != "static/logo_perobal.png" {
		t.Errorf("unexpected logo path %s", cfg.LogoPath)
	}
	if cfg.Retention() != 0 {
		t.Errorf("retention should be disabled by default")
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Error("expected DATABASE_URL to be required")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "postgres://sismed@localhost/sismed")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("PRESCRIPTION_RETENTION_DAYS", "365")
	t.Setenv("REQUEST_TIMEOUT", "2s")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Join(cfg.KafkaBrokers, "|") != "a:9092|b:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.Retention() != 365*24*time.Hour {
		t.Errorf("unexpected retention %s", cfg.Retention())
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("unexpected timeout %s", cfg.RequestTimeout)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ORG_NAME=CLINICA TESTE\nSPOOL_WORKERS=2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OrgName != "CLINICA TESTE" {
		t.Errorf("expected ORG_NAME from file, got %q", cfg.OrgName)
	}
	if cfg.SpoolWorkers != 2 {
		t.Errorf("expected SPOOL_WORKERS 2, got %d", cfg.SpoolWorkers)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("PORT", "70000")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("PURGE_AT", "25:99")
	t.Setenv("PRESCRIPTION_RETENTION_DAYS", "-1")

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"PORT", "LOG_LEVEL", "PURGE_AT", "PRESCRIPTION_RETENTION_DAYS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("03:30")
	if err != nil || h != 3 || m != 30 {
		t.Fatalf("ParseClock(03:30) = %d, %d, %v", h, m, err)
	}
	if _, _, err := ParseClock("3h"); err == nil {
		t.Error("expected error for malformed clock")
	}
}

func TestIsDev(t *testing.T) {
	c := &Config{Env: "dev"}
	if !c.IsDev() {
		t.Error("expected IsDev() for dev")
	}
	c.Env = "prod"
	if c.IsDev() {
		t.Error("expected IsDev() false for prod")
	}
}
