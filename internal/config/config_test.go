package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/keystone")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.ShutdownTimeoutSeconds != 60 {
		t.Errorf("server defaults = %q, %ds", cfg.ListenAddr, cfg.ShutdownTimeoutSeconds)
	}
	if cfg.NotifyPastWindowDays != 3 || cfg.NotifyScheduleInterval != time.Hour {
		t.Errorf("notify defaults = %d days, %v", cfg.NotifyPastWindowDays, cfg.NotifyScheduleInterval)
	}
	if cfg.WorkerJobTimeout >= cfg.WorkerStaleAfter {
		t.Errorf("job timeout %v must stay below stale threshold %v", cfg.WorkerJobTimeout, cfg.WorkerStaleAfter)
	}
	if cfg.Email.TemplateDir != "/etc/keystone/templates" || cfg.Email.DebugDir != "" {
		t.Errorf("email defaults = %+v", cfg.Email)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Error("Load without DATABASE_URL: want error")
	}
}

func TestLoadEmail_IgnoresDatabaseSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DEBUG_EMAIL_DIR", "/tmp/mail")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := LoadEmail()
	if err != nil {
		t.Fatalf("LoadEmail: %v", err)
	}
	if cfg.DebugDir != "/tmp/mail" || cfg.SMTPPort != 2525 {
		t.Errorf("email config = %+v", cfg)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadJWTSecret(); err == nil {
		t.Error("empty JWT_SECRET: want error")
	}
	t.Setenv("JWT_SECRET", "s3cret")
	got, err := LoadJWTSecret()
	if err != nil || got != "s3cret" {
		t.Errorf("LoadJWTSecret = %q, %v", got, err)
	}
}
