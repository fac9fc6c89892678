package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/jobqueue/internal/config"
	"github.com/cuongbtq/jobqueue/internal/worker/storage"
	"github.com/cuongbtq/jobqueue/shared/logger"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openDatabase).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDatabase connects with the shared service configuration. Only warnings
// and errors are logged so command output stays readable.
func openDatabase(ctx context.Context, configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Level = "warn"
	logCfg.Format = "console"
	logCfg.Output = "stderr"

	appLogger, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbClient, err := postgresql.NewClient(ctx, cfg.PostgresConfig(), appLogger.Logger)
	if err != nil {
		return nil, err
	}

	return &session{
		store:              storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		migrate:            func() (uint, error) { return postgresql.Migrate(dbClient.GetDB().DB) },
		defaultMaxAttempts: cfg.Worker.MaxAttempts,
		close: func() {
			dbClient.Close()
			appLogger.Close()
		},
	}, nil
}
