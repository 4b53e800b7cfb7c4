// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Commands that only render mail (render-templates) call [LoadEmail] instead,
// which does not require database or auth settings.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	// DatabaseURLMigrate, when set, is used by `keystone migrate` instead of DatabaseURL
	// so schema changes can run under a role with DDL rights.
	DatabaseURLMigrate   string        `env:"DATABASE_URL_MIGRATE"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`
	// Per-client limits on /api/v1.
	APIRateLimitPerMinute int           `env:"API_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	APIRateLimitBurst     int           `env:"API_RATE_LIMIT_BURST"      envDefault:"60"`
	RateLimitEvictTTL     time.Duration `env:"RATE_LIMIT_EVICT_TTL"      envDefault:"15m"`

	// ── Auth ───────────────────────────────────────────────────────────────────
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// ── Email ────────────────────────────────────────────────────────────────────
	Email EmailConfig

	// ── Notifications ────────────────────────────────────────────────────────────
	// How often the scheduler wakes up. Each sweep still runs at most once per day.
	NotifyScheduleInterval time.Duration `env:"NOTIFY_SCHEDULE_INTERVAL" envDefault:"1h"`
	// Requests that expired within this many days receive a past-expiration notice.
	NotifyPastWindowDays int     `env:"NOTIFY_PAST_WINDOW_DAYS" envDefault:"3"`
	NotifyMailRate       float64 `env:"NOTIFY_MAIL_RATE"        envDefault:"5"`
	NotifyMailBurst      int     `env:"NOTIFY_MAIL_BURST"       envDefault:"10"`

	// ── Worker ───────────────────────────────────────────────────────────────────
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	WorkerStaleAfter   time.Duration `env:"WORKER_STALE_AFTER"   envDefault:"30m"`
	WorkerJobTimeout   time.Duration `env:"WORKER_JOB_TIMEOUT"   envDefault:"20m"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// EmailConfig groups outbound mail and template settings.
type EmailConfig struct {
	SMTPHost     string `env:"SMTP_HOST"     envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT"     envDefault:"25"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"      envDefault:"false"`

	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@keystone.bot"`
	FromName    string `env:"EMAIL_FROM_NAME"    envDefault:"Keystone"`

	// TemplateDir holds operator overrides; checked before DefaultDir.
	TemplateDir string `env:"EMAIL_TEMPLATE_DIR" envDefault:"/etc/keystone/templates"`
	// DefaultDir replaces the templates compiled into the binary when set.
	DefaultDir string `env:"EMAIL_DEFAULT_DIR"`

	// DebugDir switches delivery to .eml files written into this directory.
	DebugDir string `env:"DEBUG_EMAIL_DIR"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEmail parses only the email settings.
func LoadEmail() (*EmailConfig, error) {
	cfg := &EmailConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJWTSecret reads only JWT_SECRET, for commands that mint tokens
// without touching the database.
func LoadJWTSecret() (string, error) {
	var c struct {
		JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	}
	if err := env.Parse(&c); err != nil {
		return "", err
	}
	return c.JWTSecret, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
