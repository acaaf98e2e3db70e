// Package main - точка входа фоновых процессов (Worker) ClassLens Monitor.
//
// Worker отвечает за периодические задачи:
// - Опрос источника заданий по активным классам
// - Детектирование застывших сессий (агент замолчал)
// - Очистка журнала наблюдений по окну хранения
//
// Цикл захвата кадров живёт в агенте (cmd/agent); worker держит
// актуальным контекст заданий и гигиену данных вокруг него.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	// Application layer
	"github.com/classlens/classlens-monitor/internal/application/command"

	// Infrastructure layer
	"github.com/classlens/classlens-monitor/internal/infrastructure/external/assignments"
	"github.com/classlens/classlens-monitor/internal/infrastructure/messaging"
	"github.com/classlens/classlens-monitor/internal/infrastructure/persistence/postgres"
	"github.com/classlens/classlens-monitor/internal/infrastructure/persistence/redis"
	"github.com/classlens/classlens-monitor/internal/infrastructure/scheduler"
	"github.com/classlens/classlens-monitor/internal/infrastructure/scheduler/jobs"

	// Packages
	"github.com/classlens/classlens-monitor/config"
	assignmentdomain "github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем приложение
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting ClassLens Monitor worker",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	// Проверяем соединение
	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ (worker тоже должен видеть актуальную схему)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache      *redis.Cache
		sessionCache    *redis.SessionCache
		presenceTracker *redis.Presence
		assignmentCache *redis.AssignmentCache
		overviewCache   *redis.OverviewCache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfigFrom(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			sessionCache = redis.NewSessionCache(redisCache)
			presenceTracker = redis.NewPresence(redisCache)
			assignmentCache = redis.NewAssignmentCache(redisCache)
			overviewCache = redis.NewOverviewCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	sessionRepo := postgres.NewSessionRepository(dbConn)
	journalRepo := postgres.NewJournalRepository(dbConn)
	assignmentRepo := postgres.NewAssignmentRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	// С Redis события worker'а (смена задания, застывшая сессия) уходят
	// в Pub/Sub и видны агентам; без него остаётся локальная шина.
	log.Info("initializing event bus...")
	localBusConfig := messaging.DefaultInMemoryEventBusConfig()
	localBusConfig.Logger = log
	localBusConfig.AsyncMode = true

	var eventBus interface {
		shared.EventPublisher
		Close() error
	}
	if redisCache != nil {
		eventBus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewCacheRedisClient(redisCache),
			LocalBusConfig: localBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
	} else {
		eventBus = messaging.NewInMemoryEventBus(localBusConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИСТОЧНИК ЗАДАНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	assignmentSource, err := buildAssignmentSource(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create assignment source: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		EnableMetrics: true,
	})

	pollJob := jobs.NewPollAssignmentsJob(
		sessionRepo,
		assignmentRepo,
		assignmentSource,
		assignmentCachesFrom(assignmentCache, overviewCache),
		eventBus,
		log,
		jobs.PollAssignmentsConfig{Timeout: cfg.Scheduler.JobTimeout},
	)
	if err := sched.Register(pollJob, scheduler.NewIntervalSchedule(cfg.Scheduler.PollAssignmentsInterval)); err != nil {
		return fmt.Errorf("failed to register poll job: %w", err)
	}

	// Детекция застывших сессий завязана на heartbeat в Redis;
	// без Redis задача бессмысленна.
	if presenceTracker != nil {
		stopMonitoring := command.NewStopMonitoringHandler(sessionRepo, nilSafeCache(sessionCache), eventBus)
		staleJob := jobs.NewDetectStaleJob(
			sessionRepo,
			presenceTracker,
			stopMonitoring,
			eventBus,
			log,
			jobs.DetectStaleConfig{
				StaleThreshold: cfg.Scheduler.StaleThreshold,
				Timeout:        cfg.Scheduler.JobTimeout,
			},
		)
		if err := sched.Register(staleJob, scheduler.NewIntervalSchedule(cfg.Scheduler.DetectStaleInterval)); err != nil {
			return fmt.Errorf("failed to register stale job: %w", err)
		}
	} else {
		log.Warn("Redis unavailable, stale session detection disabled")
	}

	cleanupJob := jobs.NewCleanupJob(
		journalRepo,
		nilSafeCleaner(presenceTracker),
		log,
		jobs.CleanupConfig{
			JournalRetention: cfg.Scheduler.JournalRetention,
			Timeout:          cfg.Scheduler.JobTimeout,
		},
	)
	if err := sched.Register(cleanupJob, cleanupSchedule(cfg, log)); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("ClassLens Monitor worker is running",
		"poll_interval", cfg.Scheduler.PollAssignmentsInterval.String(),
		"stale_interval", cfg.Scheduler.DetectStaleInterval.String(),
		"cleanup_interval", cfg.Scheduler.CleanupInterval.String(),
	)

	// Ожидаем сигнал завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler gracefully", "error", err)
		log.Warn("shutdown completed with errors")
		return nil
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}

	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// parseLogLevel переводит строковый уровень в slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redisConfigFrom собирает redis.Config из конфигурации приложения.
func redisConfigFrom(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// cleanupSchedule собирает расписание очистки: cron-выражение для
// ночного запуска или интервал, если выражение не задано или битое.
func cleanupSchedule(cfg *config.Config, log *slog.Logger) scheduler.Schedule {
	if cfg.Scheduler.CleanupCron != "" {
		expr, err := scheduler.ParseCronExpression(cfg.Scheduler.CleanupCron)
		if err == nil {
			return expr
		}
		log.Warn("invalid cleanup cron expression, falling back to interval",
			"cron", cfg.Scheduler.CleanupCron, "error", err)
	}
	return scheduler.NewIntervalSchedule(cfg.Scheduler.CleanupInterval)
}

// buildAssignmentSource выбирает источник заданий: HTTP-провайдер или
// статичное задание из конфигурации для разработки.
func buildAssignmentSource(cfg *config.Config, log *slog.Logger) (assignmentdomain.Source, error) {
	if cfg.Assignments.SourceURL != "" {
		return assignments.NewHTTPSource(assignments.HTTPSourceConfig{
			BaseURL: cfg.Assignments.SourceURL,
			APIKey:  cfg.Assignments.APIKey,
			Timeout: cfg.Assignments.Timeout,
			Logger:  log,
		})
	}

	log.Warn("assignment provider not configured, using static source")
	source := assignments.NewStaticSource()
	if cfg.Assignments.StaticClassroom != "" && cfg.Assignments.StaticTitle != "" {
		err := source.SetTask(
			tracking.ClassroomID(cfg.Assignments.StaticClassroom),
			cfg.Assignments.StaticTitle,
			cfg.Assignments.StaticDescription,
		)
		if err != nil {
			return nil, fmt.Errorf("seed static assignment: %w", err)
		}
	}
	return source, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// assignmentCachesAdapter сводит два Redis-кеша к интерфейсу задачи опроса:
// обновление текущего задания инвалидирует и сводку класса.
type assignmentCachesAdapter struct {
	assignments *redis.AssignmentCache
	overviews   *redis.OverviewCache
}

func (a *assignmentCachesAdapter) SetCurrent(ctx context.Context, task *assignmentdomain.Assignment, ttl time.Duration) error {
	return a.assignments.SetCurrent(ctx, task, ttl)
}

func (a *assignmentCachesAdapter) InvalidateOverview(ctx context.Context, classroom string) error {
	return a.overviews.InvalidateOverview(ctx, classroom)
}

// assignmentCachesFrom возвращает nil-интерфейс, когда Redis выключен.
func assignmentCachesFrom(ac *redis.AssignmentCache, oc *redis.OverviewCache) jobs.AssignmentCaches {
	if ac == nil || oc == nil {
		return nil
	}
	return &assignmentCachesAdapter{assignments: ac, overviews: oc}
}

// Типизированный nil внутри интерфейса не равен nil; обработчики
// считали бы кеш настроенным.

func nilSafeCache(c *redis.SessionCache) tracking.Cache {
	if c == nil {
		return nil
	}
	return c
}

func nilSafeCleaner(p *redis.Presence) jobs.PresenceCleaner {
	if p == nil {
		return nil
	}
	return p
}
