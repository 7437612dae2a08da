package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSheets = "sheets"
)

var validLogLevels = []string{"debug", "info", "warn", "warning", "error"}

type Config struct {
	// HTTP server; a zero rate limit disables throttling of writes.
	Port               string
	ShutdownTimeout    time.Duration
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// AMQP; an empty URL disables lifecycle events.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger export
	LedgerBackend            string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Export worker
	ExportBatchSize int
	ExportInterval  time.Duration

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/frais.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "frais"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sheet_events"),

		LedgerBackend:            getEnv("LEDGER_BACKEND", LedgerMemory),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Remboursements"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		ExportBatchSize: getEnvInt("EXPORT_BATCH_SIZE", 10),
		ExportInterval:  getEnvDuration("EXPORT_INTERVAL", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// EventsEnabled reports whether lifecycle events go to a broker.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate reports every configuration problem in one error.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		problems = append(problems, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if c.SQLiteDBPath == "" {
		problems = append(problems, "SQLite database path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	validBackends := []string{LedgerMemory, LedgerSheets}
	if !slices.Contains(validBackends, c.LedgerBackend) {
		problems = append(problems, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}

	if c.LedgerBackend == LedgerSheets {
		if c.GoogleSpreadsheetID == "" {
			problems = append(problems, "Google Spreadsheet ID is required when using sheets ledger")
		}
		if c.GoogleSheetName == "" {
			problems = append(problems, "Google Sheet name is required when using sheets ledger")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			problems = append(problems, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets ledger")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				problems = append(problems, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.ExportBatchSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid export batch size %d: must be at least 1", c.ExportBatchSize))
	} else if c.ExportBatchSize > 1000 {
		problems = append(problems, fmt.Sprintf("invalid export batch size %d: must be at most 1000", c.ExportBatchSize))
	}

	if c.ExportInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid export interval %v: must be at least 1 second", c.ExportInterval))
	} else if c.ExportInterval > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid export interval %v: must be at most 24 hours", c.ExportInterval))
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		problems = append(problems, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
