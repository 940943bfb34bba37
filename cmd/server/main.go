package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookflow/internal/api"
	"bookflow/internal/broker"
	"bookflow/internal/config"
	"bookflow/internal/database"
	"bookflow/internal/domain"
	"bookflow/internal/events"
	"bookflow/internal/export"
	"bookflow/internal/fees"
	"bookflow/internal/files"
	"bookflow/internal/logging"
	"bookflow/internal/metrics"
	"bookflow/internal/notify"
	"bookflow/internal/processor"
	"bookflow/internal/repository"
	"bookflow/internal/scheduler"
	"bookflow/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const uploadCleanupInterval = time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "server-main")

	catalog, err := config.LoadServices(cfg.Booking.ServicesPath)
	if err != nil {
		logger.Error().Err(err).Str("services_path", cfg.Booking.ServicesPath).Msg("load service catalog")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(baseLogger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	bus := events.NewEventBus(logging.Component(baseLogger, "events"))
	publisher := initBroker(cfg, bus, baseLogger)
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
	}
	initTelegram(cfg, bus, baseLogger)

	store, err := files.NewLocalStore(cfg.Files, logging.Component(baseLogger, "files"))
	if err != nil {
		logger.Error().Err(err).Msg("init file store")
		return err
	}
	go cleanupUploads(ctx, store, logger)

	sched := scheduler.New(db, redisClient, cfg.Scheduler, logging.Component(baseLogger, "scheduler"))
	svcLogger := logging.Component(baseLogger, "service")
	window := cfg.Booking.CancellationWindowDays
	stores := service.Stores{Intents: db, BookedServices: db, Payments: db, BookingPayments: db, Projects: db}

	calc := fees.NewCalculator(catalog, logging.Component(baseLogger, "fees"))
	projects := service.NewProjectService(db, calc, svcLogger)
	payments := service.NewPaymentService(db, db, sched, bus, cfg.Commissions, window, svcLogger)
	booked := service.NewBookedServiceService(db, payments, bus, window, svcLogger)
	orchestrator := service.NewOrchestrator(stores, payments, projects, store, sched, initLocks(redisClient, baseLogger), bus, svcLogger)
	bookingPayments := service.NewBookingPaymentService(db, processor.NewClient(cfg.Processor), cfg.Deposits, orchestrator, svcLogger)
	intents := service.NewIntentService(stores, calc, orchestrator, bookingPayments, sched, cfg, svcLogger)
	watchdog := service.NewWatchdog(db, bus, svcLogger)

	sched.Register(service.JobAbandonedCheck, watchdog.Handle)
	sched.Register(service.JobPaymentEligible, payments.HandleEligibilityJob)
	go sched.Start(ctx)

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logging.Component(baseLogger, "backup")).Start(ctx)
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, api.Services{
			Intents:         intents,
			Orchestrator:    orchestrator,
			BookedServices:  booked,
			Payments:        payments,
			BookingPayments: bookingPayments,
			Exporter:        export.NewPayoutExporter(db, cfg.Commissions.Team, cfg.Exports.Path, logging.Component(baseLogger, "export")),
			Files:           store,
		}, logging.Component(baseLogger, "http"))
	} else {
		logger.Warn().Msg("HTTP API is disabled in config, running scheduler only")
	}

	return startServers(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, baseLogger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initLocks(client *redis.Client, baseLogger *zerolog.Logger) domain.LockRepository {
	memory := repository.NewMemoryLockRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverLockRepository(
		repository.NewRedisLockRepository(client),
		memory,
		logging.Component(baseLogger, "locks"),
	)
}

func initBroker(cfg *config.Config, bus *events.EventBus, baseLogger *zerolog.Logger) *broker.Publisher {
	if cfg.Broker.URL == "" {
		return nil
	}

	logger := logging.Component(baseLogger, "broker")
	publisher, err := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("broker connection failed, continuing without event forwarding")
		return nil
	}
	publisher.Forward(bus)
	logger.Info().Str("exchange", cfg.Broker.Exchange).Msg("forwarding events to broker")
	return publisher
}

func initTelegram(cfg *config.Config, bus *events.EventBus, baseLogger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" {
		return
	}

	logger := logging.Component(baseLogger, "telegram")
	bot, err := notify.NewBot(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	notify.NewTelegramNotifier(bot, cfg.Telegram, logger).Subscribe(bus)
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
}

func cleanupUploads(ctx context.Context, store *files.LocalStore, logger *zerolog.Logger) {
	ticker := time.NewTicker(uploadCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupTemp(24 * time.Hour)
			if err != nil {
				logger.Error().Err(err).Msg("cleanup temp uploads")
				continue
			}
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("stale uploads removed")
			}
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("http_enabled", httpServer != nil).Msg("bookflow started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("bookflow stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
