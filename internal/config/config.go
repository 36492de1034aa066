package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// File lifecycle directories
	WatchDir     string
	ProcessedDir string
	FailedDir    string

	// Database
	SQLiteDBPath string

	// CSV parsing
	DateFormat string // Go reference layout for the statement date column
	RulesFile  string // optional YAML categorization rules; empty = built-in set

	// AMQP (optional batch events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Pipeline tuning
	StorageTimeout     time.Duration
	MaxConcurrentFiles int
	SettleDelay        time.Duration
}

func Load() *Config {
	watchDir := getEnv("WATCH_DIR", "./data/watch")
	return &Config{
		WatchDir:     watchDir,
		ProcessedDir: getEnv("PROCESSED_DIR", watchDir+"/../processed"),
		FailedDir:    getEnv("FAILED_DIR", watchDir+"/../failed"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/bankfeed.db"),

		DateFormat: getEnv("DATE_FORMAT", "01/02/2006"),
		RulesFile:  getEnv("RULES_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "bankfeed"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "batches_ingested"),

		StorageTimeout:     getEnvDuration("STORAGE_TIMEOUT", 30*time.Second),
		MaxConcurrentFiles: getEnvInt("MAX_CONCURRENT_FILES", 2),
		SettleDelay:        getEnvDuration("SETTLE_DELAY", 2*time.Second),
	}
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if c.WatchDir == "" {
		errors = append(errors, "watch directory cannot be empty")
	}
	if c.ProcessedDir == "" {
		errors = append(errors, "processed directory cannot be empty")
	}
	if c.FailedDir == "" {
		errors = append(errors, "failed directory cannot be empty")
	}
	if c.WatchDir != "" && (c.WatchDir == c.ProcessedDir || c.WatchDir == c.FailedDir) {
		errors = append(errors, "watch directory must differ from the processed and failed directories")
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}

	if c.DateFormat == "" {
		errors = append(errors, "date format cannot be empty")
	} else {
		// A layout is usable when a distinguishable date survives a
		// format/parse round trip.
		ref := time.Date(2024, 11, 23, 0, 0, 0, 0, time.UTC)
		parsed, err := time.Parse(c.DateFormat, ref.Format(c.DateFormat))
		if err != nil || parsed.Year() != 2024 || parsed.Month() != 11 || parsed.Day() != 23 {
			errors = append(errors, fmt.Sprintf("invalid date format %q: not a usable Go date layout", c.DateFormat))
		}
	}

	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("rules file does not exist: %s", c.RulesFile))
		}
	}

	if c.AMQPURL != "" {
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

	if c.StorageTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid storage timeout %v: must be at least 1 second", c.StorageTimeout))
	} else if c.StorageTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid storage timeout %v: must be at most 10 minutes", c.StorageTimeout))
	}

	if c.MaxConcurrentFiles < 1 {
		errors = append(errors, fmt.Sprintf("invalid max concurrent files %d: must be at least 1", c.MaxConcurrentFiles))
	} else if c.MaxConcurrentFiles > 64 {
		errors = append(errors, fmt.Sprintf("invalid max concurrent files %d: must be at most 64", c.MaxConcurrentFiles))
	}

	if c.SettleDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid settle delay %v: must not be negative", c.SettleDelay))
	} else if c.SettleDelay > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid settle delay %v: must be at most 1 minute", c.SettleDelay))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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
