package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"frais/internal/amqp"
	"frais/internal/cli"
	apphttp "frais/internal/http"
	"frais/internal/log"
	"frais/internal/services"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	opts := []services.Option{services.WithLogger(logger)}
	if cfg.EventsEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		opts = append(opts, services.WithPublisher(client))
		logger.Info("Lifecycle events enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Lifecycle events disabled - no AMQP_URL provided")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Sheets:     services.NewSheetService(repo, opts...),
		Accounting: services.NewAccountingService(repo, opts...),
		Accounts:   services.NewAccountService(repo, opts...),
		Ready:      repo.Ping,
	}, apphttp.Options{RateLimitPerMinute: cfg.RateLimitPerMinute})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting frais server", log.FieldOperation, log.OpStartup, "port", cfg.Port, "db", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
