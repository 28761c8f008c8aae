package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/semmidev/strongbox/internal/adapter/archive"
	"github.com/semmidev/strongbox/internal/adapter/database"
	"github.com/semmidev/strongbox/internal/adapter/exclusion"
	"github.com/semmidev/strongbox/internal/adapter/notify"
	"github.com/semmidev/strongbox/internal/adapter/progress"
	"github.com/semmidev/strongbox/internal/adapter/schedulestore"
	"github.com/semmidev/strongbox/internal/adapter/storage"
	"github.com/semmidev/strongbox/internal/config"
	"github.com/semmidev/strongbox/internal/domain"
	"github.com/semmidev/strongbox/internal/infrastructure/logger"
	"github.com/semmidev/strongbox/internal/infrastructure/metrics"
	"github.com/semmidev/strongbox/internal/infrastructure/scheduler"
	"github.com/semmidev/strongbox/internal/usecase"
)

// Services is everything the HTTP API and the CLI operate on.
type Services struct {
	Backup    *usecase.Backup
	Cleanup   *usecase.Cleanup
	Restore   *usecase.Restore
	Scheduled *usecase.ScheduledRunner
	Evaluator *usecase.Evaluator
	Progress  *progress.Store
	Archives  *storage.LocalStorage
	Schedules *schedulestore.Store
	Metrics   *metrics.Metrics
}

type App struct {
	*Services

	config    *config.Config
	logger    *logger.Logger
	db        *sql.DB
	scheduler *scheduler.Scheduler
}

func New(cfg *config.Config) (*App, error) {
	// Initialize logger
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	archives, err := storage.NewLocal(cfg.Backup.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
	}

	progressStore, err := progress.NewStore(cfg.Progress.Dir, cfg.Progress.StaleAfter, cfg.Progress.Throttle)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize progress store: %w", err)
	}

	matcher, err := exclusion.New(cfg.ExclusionPrefixes())
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "backup.exclude", Err: err}
	}

	// The pool connects lazily, so a database that is down only fails the
	// jobs that need it.
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "database", Err: err}
	}

	native := database.NewNative(db, cfg.Database.Database, cfg.Database.InsertBatch)
	dumper := database.NewDumper(database.NewMySQLDump(&cfg.Database, native), native)

	var notifier usecase.Notifier = notify.Nop{}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(&cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram, notifications disabled: %v", err)
		} else {
			notifier = tg
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	m := metrics.New()
	evaluator := usecase.NewEvaluator(time.Local)
	schedules := schedulestore.New(cfg.Schedule.StorePath, log.Named("schedules"))

	cleanup := usecase.NewCleanup(archives, log.Named("cleanup"), m, cfg.Backup.RetentionCount)
	backup := usecase.NewBackup(
		dumper,
		archive.New(matcher, cfg.Backup.BatchSize),
		archives,
		progressStore,
		cleanup,
		log.Named("backup"),
		m,
		usecase.BackupOptions{
			SourceRoot: cfg.Backup.SourceRoot,
			ScratchDir: cfg.Backup.ScratchDir,
			Heartbeat:  cfg.Progress.Heartbeat,
		},
	)
	restore := usecase.NewRestore(
		archives,
		func(ctx context.Context) (domain.StatementSession, error) { return db.Conn(ctx) },
		log.Named("restore"),
		m,
		cfg.Backup.SourceRoot,
		cfg.Backup.ScratchDir,
	)

	return &App{
		Services: &Services{
			Backup:    backup,
			Cleanup:   cleanup,
			Restore:   restore,
			Scheduled: usecase.NewScheduledRunner(schedules, backup, evaluator, notifier, log.Named("scheduled")),
			Evaluator: evaluator,
			Progress:  progressStore,
			Archives:  archives,
			Schedules: schedules,
			Metrics:   m,
		},
		config:    cfg,
		logger:    log,
		db:        db,
		scheduler: scheduler.New(log.Named("scheduler")),
	}, nil
}

func (a *App) Logger() *logger.Logger { return a.logger }

// Run serves the HTTP API and, when enabled, evaluates schedules on every
// cron tick until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s", a.config.App.Name)
	a.logger.Infof("Source root: %s", a.config.Backup.SourceRoot)
	a.logger.Infof("Archive directory: %s (keeping %d)", a.config.Backup.ArchiveDir, a.config.Backup.RetentionCount)

	if a.config.Schedule.Enabled {
		if err := a.scheduler.AddJob("scheduled-backups", a.config.Schedule.Tick, a.Scheduled.Execute); err != nil {
			return &domain.ConfigurationError{Field: "schedule.tick", Err: err}
		}
		a.scheduler.Start()
		a.logger.Infof("Scheduler started (%s), next tick at %s", a.config.Schedule.Tick, a.scheduler.Next().Format(time.RFC3339))
	}

	gin.SetMode(gin.ReleaseMode)
	server := NewServer(a.config.HTTP.Addr, a.Services, a.logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		a.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	if err := a.db.Close(); err != nil {
		a.logger.Errorf("Failed to close database pool: %v", err)
	}
	a.logger.Close()
}
