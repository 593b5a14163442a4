package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/internal/adapter/repository/postgres"
	"github.com/patrckmello/zg-planner/internal/api"
	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/backup"
	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/jobs"
	"github.com/patrckmello/zg-planner/internal/mail"
	"github.com/patrckmello/zg-planner/internal/notification"
	"github.com/patrckmello/zg-planner/internal/outbox"
	"github.com/patrckmello/zg-planner/internal/scheduler"
	"github.com/patrckmello/zg-planner/pkg/db"
	zaplog "github.com/patrckmello/zg-planner/pkg/log"
	"github.com/patrckmello/zg-planner/pkg/snowflake"
	"github.com/patrckmello/zg-planner/sql/migrations"
)

const leaderPollInterval = 10 * time.Second

// RunServer starts the HTTP server and, once leadership is acquired,
// the background job scheduler.
func RunServer() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,

			// Adapters (bind interfaces)
			fx.Annotate(
				mail.NewSMTPSender,
				fx.As(new(mail.Sender)),
			),
			fx.Annotate(
				postgres.NewTaskRepository,
				fx.As(new(task.Repository)),
			),
			fx.Annotate(
				postgres.NewOutboxRepository,
				fx.As(new(outbox.ItemRepository)),
			),
			fx.Annotate(
				postgres.NewReminderLedger,
				fx.As(new(jobs.ReminderLedger)),
			),
			fx.Annotate(
				postgres.NewUserDirectory,
				fx.As(new(notification.UserDirectory)),
			),

			// Audit is consumed concretely by the backup service and
			// through narrow interfaces everywhere else.
			audit.NewLogger,
			func(l *audit.Logger) jobs.Auditor { return l },
			func(l *audit.Logger) api.AuditLog { return l },

			// Services
			outbox.NewStore,
			outbox.NewWorker,
			notification.NewService,
			backup.NewService,
			func(s *backup.Service) api.BackupManager { return s },
			func(s *backup.Service) jobs.BackupStore { return s },

			// Jobs
			jobs.NewArchiver,
			newPurger,
			jobs.NewReminderer,
			jobs.NewBackupJobs,
			newJobHandlers,

			// Scheduler
			scheduler.NewRegistry,
			newLeaderGuard,

			// API
			api.NewRouter,

			func(cfg *config.Config) (*zap.Logger, error) {
				return zaplog.NewLogger(cfg.Environment)
			},
		),
		db.Module,
		snowflake.Module,
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting database migration", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("migration up applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("migration down applied")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *api.Router,
	registry *scheduler.Registry,
	guard *scheduler.LeaderGuard,
	handlers jobs.Handlers,
	logger *zap.Logger,
) {
	log := logger.Named("app")
	var leaderCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting http server", zap.String("port", cfg.Port))

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					log.Fatal("server failed to start", zap.Error(err))
				}
			}()

			// Only the leader ticks the scheduler. Followers keep serving
			// HTTP and wait for the advisory lock to free up.
			leaderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			leaderCancel = cancel
			go func() {
				if err := guard.WaitForLeadership(leaderCtx, leaderPollInterval); err != nil {
					return
				}

				loc, err := time.LoadLocation(cfg.SchedulerTimezone)
				if err != nil {
					log.Warn("invalid scheduler timezone, using UTC",
						zap.String("timezone", cfg.SchedulerTimezone), zap.Error(err))
					loc = time.UTC
				}

				if err := jobs.RegisterAll(registry, loc, handlers); err != nil {
					log.Error("job registration failed", zap.Error(err))
					return
				}
				registry.Start()
				log.Info("scheduler started as leader")
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down")

			if leaderCancel != nil {
				leaderCancel()
			}
			registry.Stop()
			guard.Release(ctx)

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				log.Error("server forced to shutdown", zap.Error(err))
				return err
			}

			log.Info("stopped")
			return nil
		},
	})
}

func newJobHandlers(
	worker *outbox.Worker,
	reminders *jobs.Reminderer,
	purger *jobs.Purger,
	archiver *jobs.Archiver,
	backups *jobs.BackupJobs,
) jobs.Handlers {
	return jobs.Handlers{
		Worker:    worker,
		Reminders: reminders,
		Purger:    purger,
		Archiver:  archiver,
		Backups:   backups,
	}
}

func newPurger(repo task.Repository, auditLog jobs.Auditor, cfg *config.Config, logger *zap.Logger) *jobs.Purger {
	return jobs.NewPurger(repo, auditLog, cfg.UploadDir, logger)
}

func newLeaderGuard(gormDB *gorm.DB, cfg *config.Config, logger *zap.Logger) *scheduler.LeaderGuard {
	return scheduler.NewLeaderGuard(gormDB, cfg.SchedulerLockKey, logger)
}
