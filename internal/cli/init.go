// Package cli provides common CLI initialization utilities shared by the
// savings worker, the report worker and the admin tool.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneyboxes/internal/amqp"
	"moneyboxes/internal/config"
	"moneyboxes/internal/log"
	"moneyboxes/internal/notify"
	"moneyboxes/internal/sheets"
	gsheet "moneyboxes/internal/sheets/google"
	"moneyboxes/internal/storage"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger. Unknown levels fall back to info.
func SetupLogger(level, component string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	cfg.Component = component

	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", log.FieldError, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the repository and seeds the app settings on first
// start. Returns the repository or exits the process on failure.
func InitSQLite(ctx context.Context, logger *log.Logger, cfg *config.Config) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	defaults, err := cfg.DefaultSettings()
	if err != nil {
		logger.Error("Invalid default settings", log.FieldError, err)
		os.Exit(1)
	}
	seeded, err := repo.EnsureSettings(ctx, defaults)
	if err != nil {
		logger.Error("Failed to seed app settings", log.FieldError, err)
		os.Exit(1)
	}
	if seeded {
		logger.Info("Seeded app settings",
			"savings_amount", defaults.SavingsAmount.String(),
			log.FieldMode, string(defaults.OverflowMode))
	}
	return repo
}

// InitAMQP connects to the broker when one is configured. A failed
// connection is logged and nil is returned; callers continue without it.
func InitAMQP(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.AMQPEnabled() {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", log.FieldError, err)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// InitSheets creates the cycle log exporter, or returns nil when the export
// is disabled. Exits the process on invalid credentials.
func InitSheets(ctx context.Context, logger *log.Logger, cfg *config.Config) sheets.CycleLogExporter {
	if !cfg.SheetsEnabled() {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
		return nil
	}
	client, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client
}

// NewMailer builds the report sender from the SMTP settings.
func NewMailer(logger *log.Logger, cfg *config.Config) *notify.Sender {
	return notify.NewSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals.
func GracefulShutdown(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// WithTimeout runs cleanup and logs when it outlives timeout.
func WithTimeout(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		cleanup(ctx)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
	case <-ctx.Done():
		logger.Warn("Shutdown timeout reached", log.FieldOperation, log.OpShutdown)
	}
}
