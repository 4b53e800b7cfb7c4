// ABOUTME: Database pool construction and logger setup shared by the subcommands.
// ABOUTME: newPool retries while Postgres starts and warns when the schema is behind this binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-hpc/keystone/internal/config"
)

// connectAttempts bounds the startup retry loop; attempt n waits n seconds.
const connectAttempts = 10

// newPool creates and validates a pgxpool with the configured exec mode,
// statement timeout and pool sizing. It retries while Postgres is still
// starting (the Docker Compose startup race).
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PgBouncer transaction-pooling compatibility.
	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "keystone"
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	db, err := connectWithRetry(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	warnSchemaVersion(ctx, db)
	return db, nil
}

func connectWithRetry(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = db.Ping(ctx); err == nil {
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", err)

		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("database unavailable after %d attempts: %w", connectAttempts, lastErr)
}

// warnSchemaVersion flags deployments where `keystone migrate` has not run.
func warnSchemaVersion(ctx context.Context, db *pgxpool.Pool) {
	var version int
	err := db.QueryRow(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&version)
	if err != nil {
		slog.Warn("schema version unknown, run `keystone migrate`", "error", err)
		return
	}
	if version != expectedSchemaVersion {
		slog.Warn("schema version mismatch, run `keystone migrate`",
			"applied_version", version,
			"expected_version", expectedSchemaVersion,
		)
	}
}

// newLogger creates a slog.Logger from LOG_LEVEL and LOG_FORMAT. Development
// always logs text.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
