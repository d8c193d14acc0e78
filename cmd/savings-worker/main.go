package main

import (
	"context"
	"os"

	"moneyboxes/internal/cli"
	"moneyboxes/internal/log"
	"moneyboxes/internal/scheduler"
	"moneyboxes/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "savings-worker")
	logger.Info("Starting savings-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.GracefulShutdown(logger)
	defer cancel()

	repo := cli.InitSQLite(ctx, logger, cfg)
	defer repo.Close()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err)
		os.Exit(1)
	}

	// Publishing is optional: without a broker the report worker picks
	// cycles up through its pending sweep.
	var publisher services.CyclePublisher
	if amqpClient := cli.InitAMQP(logger, cfg); amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	runner := services.NewCycleRunner(repo, publisher, services.RunnerOptions{
		Location:  loc,
		Hour:      cfg.CycleHour,
		MaxCycles: cfg.CatchUpMaxCycles,
	}, logger)

	sched, err := scheduler.New(cfg.CycleSchedule, loc, runner, logger)
	if err != nil {
		logger.Error("Failed to create scheduler", log.FieldError, err)
		os.Exit(1)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("Scheduler failed", log.FieldError, err)
			os.Exit(1)
		}
	case <-ctx.Done():
		cli.WithTimeout(logger, cfg.ShutdownTimeout, func(context.Context) {
			<-runErr
		})
	}

	logger.Info("savings-worker stopped")
}
