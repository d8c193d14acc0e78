package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"moneyboxes/internal/core"
	"moneyboxes/internal/log"
)

type Config struct {
	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/moneyboxes.db"`

	// AMQP, disabled when the URL is empty
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"moneyboxes"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"cycle_reports"`

	// Scheduling
	CycleSchedule    string `env:"CYCLE_SCHEDULE" envDefault:"0 12 1 * *"`
	CycleHour        int    `env:"CYCLE_HOUR" envDefault:"12"`
	Timezone         string `env:"TIMEZONE" envDefault:"UTC"`
	CatchUpMaxCycles int    `env:"CATCHUP_MAX_CYCLES" envDefault:"120"`

	// SMTP, reports are not mailed when the host is empty
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// Google Sheets export, disabled when the spreadsheet id is empty
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName          string `env:"GOOGLE_SHEET_NAME" envDefault:"Cycle Log"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`

	// Settings seeded on first start
	DefaultSavingsAmount string `env:"DEFAULT_SAVINGS_AMOUNT" envDefault:"0"`
	DefaultOverflowMode  string `env:"DEFAULT_OVERFLOW_MODE" envDefault:"collect"`

	// Worker
	ReportSweepInterval time.Duration `env:"REPORT_SWEEP_INTERVAL" envDefault:"5m"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// AMQPEnabled reports whether cycle events go through a broker.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// SMTPEnabled reports whether reports can be mailed.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// SheetsEnabled reports whether cycle logs are exported to a spreadsheet.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Location returns the time zone cycle boundaries are computed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DefaultSettings returns the app settings used when the database has none.
func (c *Config) DefaultSettings() (core.Settings, error) {
	amount, err := core.ParseMoney(c.DefaultSavingsAmount)
	if err != nil {
		return core.Settings{}, fmt.Errorf("parse default savings amount: %w", err)
	}
	mode, err := core.ParseOverflowMode(c.DefaultOverflowMode)
	if err != nil {
		return core.Settings{}, err
	}
	return core.Settings{
		IsAutomatedSavingActive: true,
		SavingsAmount:           amount,
		OverflowMode:            mode,
	}, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPEnabled() {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := cron.ParseStandard(c.CycleSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid cycle schedule '%s': %v", c.CycleSchedule, err))
	}
	if c.CycleHour < 0 || c.CycleHour > 23 {
		errors = append(errors, fmt.Sprintf("invalid cycle hour %d: must be between 0 and 23", c.CycleHour))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s'", c.Timezone))
	}
	if c.CatchUpMaxCycles < 1 {
		errors = append(errors, fmt.Sprintf("invalid catch-up limit %d: must be at least 1", c.CatchUpMaxCycles))
	}

	if c.SMTPEnabled() {
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SMTP port %d: must be between 1 and 65535", c.SMTPPort))
		}
		if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
			errors = append(errors, fmt.Sprintf("invalid SMTP sender '%s': %v", c.SMTPFrom, err))
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for the sheets export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if _, err := c.DefaultSettings(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default settings: %v", err))
	}

	if c.ReportSweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report sweep interval %v: must be at least 1 second", c.ReportSweepInterval))
	} else if c.ReportSweepInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid report sweep interval %v: must be at most 24 hours", c.ReportSweepInterval))
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
