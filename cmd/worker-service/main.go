package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/cuongbtq/jobqueue/internal/config"
	"github.com/cuongbtq/jobqueue/internal/metrics"
	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/cuongbtq/jobqueue/internal/worker/handlers"
	"github.com/cuongbtq/jobqueue/internal/worker/storage"
	"github.com/cuongbtq/jobqueue/shared/logger"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("instances", cfg.Worker.Instances),
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := postgresql.NewClient(sigCtx, cfg.PostgresConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(); err != nil {
			return err
		}
	}

	m := metrics.New()
	observers := []worker.Observer{worker.NewLogObserver(appLogger.Logger), m.Observer()}

	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = rabbitmq.NewClient(sigCtx, cfg.RabbitMQClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		observers = append(observers, worker.NewEventPublisher(rabbitClient, appLogger.Logger))
	}

	registry := worker.NewRegistry()
	backend := &handlers.LoggingBackend{Logger: appLogger.Logger, Delay: 500 * time.Millisecond}
	handlers.Register(registry, handlers.Backends{
		Converter:   backend,
		Transcriber: backend,
		Generator:   backend,
	})

	pool, err := worker.NewPool(cfg.Worker.Instances, worker.Config{
		Store:             storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Registry:          registry,
		Policy:            worker.RetryPolicy{},
		Observer:          worker.NewObservers(appLogger.Logger, observers...),
		Logger:            appLogger.Logger,
		PollInterval:      cfg.Worker.PollInterval,
		MaxPollInterval:   cfg.Worker.MaxPollInterval,
		BackoffMultiplier: cfg.Worker.PollBackoffMultiplier,
		LeaseTimeout:      cfg.Worker.LeaseTimeout,
		SweepInterval:     cfg.Worker.SweepInterval,
		JobTimeout:        cfg.Worker.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	appLogger.Info("Handlers registered", slog.Any("types", registry.Types()))

	// Runtimes stop through pool.Stop so that in-flight jobs finish.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	poolErr := make(chan error, 1)
	go func() {
		poolErr <- pool.Run(runCtx)
	}()

	if rabbitClient != nil {
		consumer := worker.NewWakeConsumer(rabbitClient, pool, cfg.App.Name, appLogger.Logger)
		go func() {
			if err := consumer.Run(sigCtx); err != nil {
				appLogger.Warn("Wake consumer unavailable, relying on polling", slog.Any("error", err))
			}
		}()
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           metricsMux(m, dbClient),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info("Starting metrics server", slog.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	appLogger.Info("Worker service started successfully")

	select {
	case <-sigCtx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-poolErr:
		appLogger.Error("Worker pool exited", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	stopErr := pool.Stop(shutdownCtx)
	if stopErr != nil {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit", slog.Any("error", stopErr))
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Metrics server shutdown failed", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return stopErr
}

func metricsMux(m *metrics.Metrics, db *postgresql.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
