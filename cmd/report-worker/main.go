package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"moneyboxes/internal/cli"
	"moneyboxes/internal/log"
	"moneyboxes/internal/services"
	"moneyboxes/internal/worker"
)

const reportBatchSize = 10

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "report-worker")
	logger.Info("Starting report-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.GracefulShutdown(logger)
	defer cancel()

	repo := cli.InitSQLite(ctx, logger, cfg)
	defer repo.Close()

	mailer := cli.NewMailer(logger, cfg)
	if !mailer.Enabled() {
		logger.Info("SMTP disabled - reports will not be mailed")
	}
	exporter := cli.InitSheets(ctx, logger, cfg)

	reports := worker.NewReportWorker(repo, mailer, exporter, reportBatchSize, logger)
	sweeper := services.NewReportSweeper(reports, services.ReportSweeperConfig{
		PollInterval: cfg.ReportSweepInterval,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		return sweeper.Stop(stopCtx)
	})

	if amqpClient := cli.InitAMQP(logger, cfg); amqpClient != nil {
		defer amqpClient.Close()
		g.Go(func() error {
			err := amqpClient.ConsumeCycleCompleted(gctx, reports.HandleCycleCompleted)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping AMQP consumption - relying on the pending sweep")
	}

	if err := g.Wait(); err != nil {
		logger.Error("report-worker failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("report-worker stopped")
}
