// Package cli holds the start-up steps shared by the frais binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"frais/internal/config"
	"frais/internal/log"
	"frais/internal/storage"

	"github.com/joho/godotenv"
)

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default. Call it after LoadEnvFile.
func SetupLogger(component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg.Component = component
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development; a missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration or exits on the first invalid setting.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration,
			log.FieldOperation, log.OpStartup)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the database, applying pending migrations, or exits.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. cleanup
// runs first with a context bounded by timeout; done closes once it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		cancel()

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
