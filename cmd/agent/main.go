// Package main - точка входа мониторингового агента ClassLens Monitor.
//
// Агент управляет полным конвейером наблюдения:
// - Планировщик запускает цикл захвата по всем активным сессиям
// - Каждый кадр уходит в vision-модель и превращается в наблюдение
// - Наблюдение применяется к состоянию сессии и сохраняется
// - HTTP API отдаёт статусы сессий и сводки по классам дашбордам
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая логика фокус-скоринга без внешних зависимостей
// - Application: оркестрация use cases (Commands/Queries)
// - Infrastructure: репозитории, vision-клиент, захват экрана, планировщик
// - Interface: HTTP endpoints для дашбордов
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	// Application layer
	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/application/eventhandler"
	"github.com/classlens/classlens-monitor/internal/application/query"

	// Infrastructure layer
	"github.com/classlens/classlens-monitor/internal/infrastructure/capture"
	"github.com/classlens/classlens-monitor/internal/infrastructure/external/vision"
	"github.com/classlens/classlens-monitor/internal/infrastructure/messaging"
	"github.com/classlens/classlens-monitor/internal/infrastructure/persistence/postgres"
	"github.com/classlens/classlens-monitor/internal/infrastructure/persistence/redis"
	"github.com/classlens/classlens-monitor/internal/infrastructure/scheduler"
	"github.com/classlens/classlens-monitor/internal/infrastructure/scheduler/jobs"

	// Interface layer
	httpserver "github.com/classlens/classlens-monitor/internal/interface/http"

	// Packages
	"github.com/classlens/classlens-monitor/config"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/logger"
)

// placeholderFramePNG - прозрачный PNG 1x1 для StaticSource в dev-режиме,
// когда команда захвата не настроена.
const placeholderFramePNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

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
	// .env опционален; в production всё приходит из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting ClassLens Monitor agent",
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
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
	} else {
		appliedCount := 0
		for _, m := range status {
			if m.IsApplied {
				appliedCount++
			}
		}
		log.Info("migrations completed", "applied", appliedCount, "total", len(status))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache      *redis.Cache
		sessionCache    *redis.SessionCache
		presenceTracker *redis.Presence
		overviewCache   *redis.OverviewCache
		assignmentCache *redis.AssignmentCache
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
			overviewCache = redis.NewOverviewCache(redisCache)
			assignmentCache = redis.NewAssignmentCache(redisCache)
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
	agentRepo := postgres.NewAgentRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing vision client...")
	visionClient, err := vision.NewClient(visionConfigFrom(cfg, log))
	if err != nil {
		return fmt.Errorf("failed to create vision client: %w", err)
	}

	captureSource, err := buildCaptureSource(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	// Nil-кеши допустимы: обработчики просто пропускают эти side effects.
	// Feature flags могут отключить presence и журнал целиком.
	var presenceArg tracking.PresenceTracker
	if cfg.Features.IsEnabled(config.FeatureTrackingPresence, nil) {
		presenceArg = nilSafePresence(presenceTracker)
	} else {
		log.Info("presence tracking disabled by feature flag")
	}
	var journalArg tracking.Journal
	if cfg.Features.IsEnabled(config.FeatureTrackingJournal, nil) {
		journalArg = journalRepo
	} else {
		log.Info("observation journal disabled by feature flag")
	}

	recordObservation := command.NewRecordObservationHandler(
		sessionRepo,
		nilSafeCache(sessionCache),
		journalArg,
		presenceArg,
		eventBus,
		command.DefaultRecordObservationHandlerConfig(),
	)
	startMonitoring := command.NewStartMonitoringHandler(sessionRepo, nilSafeCache(sessionCache), eventBus, 0)
	stopMonitoring := command.NewStopMonitoringHandler(sessionRepo, nilSafeCache(sessionCache), eventBus)
	enrollAgent := command.NewEnrollAgentHandler(agentRepo, sessionRepo, eventBus)

	sessionStatusQuery := query.NewGetSessionStatusHandler(sessionRepo, nilSafeCache(sessionCache), journalRepo)
	overviewQuery := query.NewGetClassroomOverviewHandler(sessionRepo, assignmentRepo, nilSafeOverview(overviewCache), 0)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	if cfg.Features.IsEnabled(config.FeatureTrackingReminders, nil) {
		reminderHandler := eventhandler.NewOnReminderNeededHandler(
			nilSafeInvalidator(overviewCache),
			log,
			eventhandler.DefaultReminderNeededConfig(),
		)
		if err := eventBus.Subscribe(shared.EventReminderNeeded, reminderHandler.Handle); err != nil {
			return fmt.Errorf("failed to subscribe reminder handler: %w", err)
		}
	} else {
		log.Info("reminder notifications disabled by feature flag")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ПЛАНИРОВЩИК: ЦИКЛ ЗАХВАТА
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		EnableMetrics: true,
	})

	captureJob := jobs.NewCaptureCycleJob(
		sessionRepo,
		assignmentRepo,
		nilSafeTaskCache(assignmentCache),
		captureSource,
		visionClient,
		recordObservation,
		eventBus,
		log,
		jobs.CaptureCycleConfig{
			Workers:         cfg.Scheduler.CaptureWorkers,
			SchoolHoursOnly: cfg.Scheduler.SchoolHoursOnly,
			Timeout:         cfg.Scheduler.JobTimeout,
		},
	)
	if err := sched.Register(captureJob, scheduler.NewIntervalSchedule(cfg.Scheduler.CaptureCycleInterval)); err != nil {
		return fmt.Errorf("failed to register capture job: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started", "capture_interval", cfg.Scheduler.CaptureCycleInterval.String())
	} else {
		log.Warn("scheduler disabled, no capture cycles will run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host, httpConfig.Port = splitAddr(cfg.HTTP.Addr)
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout

	checkers := []httpserver.HealthChecker{&postgresChecker{conn: dbConn}}
	if redisCache != nil {
		checkers = append(checkers, &redisChecker{cache: redisCache})
	}

	httpDeps := httpserver.Dependencies{
		GetSessionStatusHandler:     sessionStatusQuery,
		GetClassroomOverviewHandler: overviewQuery,
		StartMonitoringHandler:      startMonitoring,
		StopMonitoringHandler:       stopMonitoring,
		EnrollAgentHandler:          enrollAgent,
		HealthCheckers:              checkers,
		Logger:                      logger.Default(),
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)

	go func() {
		log.Info("starting HTTP server", "address", httpServer.Address())
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("ClassLens Monitor agent is running",
		"http_address", httpServer.Address(),
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	// Ожидаем сигнал завершения или ошибку
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. Останавливаем планировщик (текущий цикл дорабатывает)
	log.Info("stopping scheduler...")
	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler gracefully", "error", err)
		shutdownErr = err
	}

	// 2. Останавливаем HTTP сервер
	log.Info("stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}

	// 3. Event bus и база данных закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

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
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// Текстовый формат для development (лучше читается)
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

// visionConfigFrom собирает vision.ClientConfig из конфигурации приложения.
func visionConfigFrom(cfg *config.Config, log *slog.Logger) vision.ClientConfig {
	vc := vision.DefaultClientConfig(cfg.Vision.APIKey)
	vc.BaseURL = cfg.Vision.BaseURL
	vc.Model = cfg.Vision.Model
	vc.Timeout = cfg.Vision.RequestTimeout
	vc.MaxRetries = cfg.Vision.MaxRetries
	vc.RetryBaseDelay = cfg.Vision.RetryBaseDelay
	vc.RetryMaxDelay = cfg.Vision.RetryMaxDelay
	vc.RateLimiterConfig.RequestsPerMinute = cfg.Vision.RateLimit
	vc.RateLimiterConfig.BurstSize = cfg.Vision.RateLimitBurst
	vc.Logger = log
	return vc
}

// buildCaptureSource выбирает источник кадров: внешняя команда захвата
// или статичный кадр для разработки без реального захвата.
func buildCaptureSource(cfg *config.Config, log *slog.Logger) (capture.Source, error) {
	if cfg.Capture.Command != "" {
		return capture.NewCommandSource(capture.CommandSourceConfig{
			Command:       cfg.Capture.Command,
			Timeout:       cfg.Capture.Timeout,
			MaxImageBytes: cfg.Capture.MaxImageBytes,
		})
	}

	log.Warn("capture command not configured, using static placeholder frames")
	data, err := base64.StdEncoding.DecodeString(placeholderFramePNG)
	if err != nil {
		return nil, fmt.Errorf("decode placeholder frame: %w", err)
	}
	return capture.NewStaticSource(data, "image/png"), nil
}

// splitAddr разбирает "host:port" из HTTP_ADDR. Пустой host означает
// все интерфейсы.
func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", 8080
	}
	if host == "" {
		host = "0.0.0.0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8080
	}
	return host, port
}

// Хелперы ниже превращают nil-указатель в nil-интерфейс: типизированный
// nil внутри интерфейса не равен nil, и обработчики считали бы кеш
// настроенным.

func nilSafeCache(c *redis.SessionCache) tracking.Cache {
	if c == nil {
		return nil
	}
	return c
}

func nilSafePresence(p *redis.Presence) tracking.PresenceTracker {
	if p == nil {
		return nil
	}
	return p
}

func nilSafeOverview(o *redis.OverviewCache) query.OverviewCache {
	if o == nil {
		return nil
	}
	return o
}

func nilSafeInvalidator(o *redis.OverviewCache) eventhandler.OverviewInvalidator {
	if o == nil {
		return nil
	}
	return o
}

func nilSafeTaskCache(c *redis.AssignmentCache) jobs.AssignmentContextCache {
	if c == nil {
		return nil
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// postgresChecker проверяет доступность PostgreSQL.
type postgresChecker struct {
	conn *postgres.Connection
}

func (c *postgresChecker) Name() string { return "postgres" }

func (c *postgresChecker) Check(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// redisChecker проверяет доступность Redis.
type redisChecker struct {
	cache *redis.Cache
}

func (c *redisChecker) Name() string { return "redis" }

func (c *redisChecker) Check(ctx context.Context) error {
	return c.cache.Ping(ctx)
}
