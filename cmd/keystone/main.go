// Command keystone is the Keystone notification service binary.
//
// Subcommands:
//
//	serve             HTTP API + embedded worker pool and sweep scheduler
//	worker            worker pool and scheduler only (no HTTP server)
//	migrate           run pending database migrations and exit
//	sweep             run one expiration sweep immediately
//	render-templates  write sample .eml files for the notification templates
//	token             mint a development access token
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so that
	// time.LoadLocation works inside distroless containers that have no
	// /usr/share/zoneinfo.
	_ "time/tzdata"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/keystone-hpc/keystone/internal/api"
	"github.com/keystone-hpc/keystone/internal/config"
	"github.com/keystone-hpc/keystone/internal/notify"
	"github.com/keystone-hpc/keystone/internal/store"
	"github.com/keystone-hpc/keystone/internal/worker"
	"github.com/keystone-hpc/keystone/migrations"
)

// expectedSchemaVersion is the migration version this binary is built for.
// Bump it with every new migration.
const expectedSchemaVersion = 3

func main() {
	root := &cobra.Command{
		Use:   "keystone",
		Short: "Keystone: HPC allocation portal notifications",
		// Errors are logged once below with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		sweepCmd(),
		renderTemplatesCmd(),
		tokenCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── shared setup ──────────────────────────────────────────────────────────────

// app is what every database-backed subcommand needs.
type app struct {
	cfg   *config.Config
	store *store.Store
	close func()
}

// bootstrap loads config, installs the logger and opens the database.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	db, err := newPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &app{cfg: cfg, store: store.New(db), close: db.Close}, nil
}

// signalContext is cancelled on SIGTERM or SIGINT.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, embedded worker pool and sweep scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serve(ctx, rt)
		},
	}
}

// serve runs the HTTP server next to the background workers. The first
// failure or a signal stops all of them; the HTTP server gets
// ShutdownTimeoutSeconds to drain.
func serve(ctx context.Context, rt *app) error {
	// WriteTimeout is left unset; every response here is small.
	srv := &http.Server{ //nolint:exhaustruct // WriteTimeout intentionally omitted
		Addr:              rt.cfg.ListenAddr,
		Handler:           api.NewServer(rt.store, rt.cfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runWorkers(gctx, rt)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(rt.cfg.ShutdownTimeoutSeconds) * time.Second
		slog.Info("shutting down", "timeout", timeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})

	return g.Wait()
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the worker pool and sweep scheduler (no HTTP server)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			slog.Info("worker started")
			runWorkers(ctx, rt)
			return nil
		},
	}
}

// runWorkers runs the sweep scheduler and the worker pool until ctx is
// cancelled, then waits for in-flight jobs. Every process runs a scheduler;
// the daily lock key keeps each sweep from being enqueued twice.
func runWorkers(ctx context.Context, rt *app) {
	job := newExpirationJob(rt.store, rt.cfg)

	pool := worker.New(rt.store, worker.Options{
		PollInterval: rt.cfg.WorkerPollInterval,
		StaleAfter:   rt.cfg.WorkerStaleAfter,
		JobTimeout:   rt.cfg.WorkerJobTimeout,
	})
	for _, sweep := range []string{notify.SweepUpcoming, notify.SweepPast} {
		pool.Register(sweep, worker.SweepHandler(job, sweep))
	}

	sched := worker.NewScheduler(rt.store, rt.cfg.NotifyScheduleInterval, nil, pool.Queues()...)
	go sched.Run(ctx)

	pool.Start(ctx)
}

// newExpirationJob wires the sweeps to the store, the configured mailer and
// the template directories.
func newExpirationJob(st *store.Store, cfg *config.Config) *notify.ExpirationJob {
	limit := rate.Inf
	if cfg.NotifyMailRate > 0 {
		limit = rate.Limit(cfg.NotifyMailRate)
	}
	limiter := rate.NewLimiter(limit, max(cfg.NotifyMailBurst, 1))

	if cfg.Email.DebugDir != "" {
		slog.Info("mail delivery redirected to files", "dir", cfg.Email.DebugDir)
	}
	dispatcher := notify.NewDispatcher(
		st,
		notify.NewMailer(cfg.Email),
		notify.NewTemplateLoader(cfg.Email.TemplateDir, cfg.Email.DefaultDir),
		limiter,
	)
	return notify.NewExpirationJob(st, notify.NewEvaluator(st, nil), dispatcher, cfg.NotifyPastWindowDays)
}

// ── sweep ─────────────────────────────────────────────────────────────────────

var sweepNames = map[string]string{
	"upcoming": notify.SweepUpcoming,
	"past":     notify.SweepPast,
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep {upcoming|past}",
		Short:     "Run one expiration sweep now, bypassing the job queue",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"upcoming", "past"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return newExpirationJob(rt.store, rt.cfg).RunSweep(ctx, sweepNames[args[0]])
		},
	}
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			// Schema changes may need a role with DDL rights.
			url := cfg.DatabaseURL
			if cfg.DatabaseURLMigrate != "" {
				url = cfg.DatabaseURLMigrate
			}

			slog.Info("running migrations", "expected_version", expectedSchemaVersion)
			version, err := migrations.Up(url)
			if err != nil {
				return err
			}
			if version != expectedSchemaVersion {
				slog.Warn("schema version differs from this binary",
					"applied_version", version,
					"expected_version", expectedSchemaVersion,
				)
			}
			slog.Info("migrations complete", "version", version)
			return nil
		},
	}
}
