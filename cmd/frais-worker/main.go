package main

import (
	"context"
	"errors"
	"os"
	"time"

	"frais/internal/amqp"
	"frais/internal/cli"
	"frais/internal/config"
	"frais/internal/log"
	"frais/internal/services"
	"frais/internal/sheets"
	gsheet "frais/internal/sheets/google"
	mem "frais/internal/sheets/memory"
	"frais/internal/worker"

	"golang.org/x/sync/errgroup"
)

const staleSheetInterval = time.Hour

func newLedger(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.Ledger, error) {
	if cfg.LedgerBackend != config.LedgerSheets {
		logger.Warn("Using in-memory ledger; exports are lost on restart")
		return mem.New(), nil
	}
	client, err := gsheet.NewWithServiceAccount(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName,
		cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureHeader(ctx); err != nil {
		return nil, err
	}
	logger.Info("Google Sheets ledger initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	return client, nil
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting frais-worker", log.FieldOperation, log.OpStartup)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ledger, err := newLedger(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger", log.FieldError, err, "backend", cfg.LedgerBackend)
		os.Exit(1)
	}

	exporter := worker.NewExportWorker(repo, ledger, cfg.ExportBatchSize)
	accounting := services.NewAccountingService(repo, services.WithLogger(logger))
	poller := worker.NewPoller(
		worker.ExportTask(exporter, cfg.ExportInterval),
		worker.StaleSheetTask(accounting, staleSheetInterval),
	)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := poller.Stop(ctx); err != nil {
			logger.Error("Poller shutdown error", log.FieldError, err)
		}
	})

	if err := poller.Start(ctx); err != nil {
		logger.Error("Failed to start poller", log.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.EventsEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			err := client.ConsumeSheetEvents(gctx, exporter.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping AMQP consumption - no AMQP_URL provided; relying on periodic export")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		poller.Stop(stopCtx)
		cancel()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
