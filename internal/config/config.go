package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileEnv names the env var pointing at an optional TOML file.
// Values from the file are overridden by environment variables.
const ConfigFileEnv = "SPENDWATCH_CONFIG"

type Config struct {
	// HTTP Server
	Port               string `toml:"port"`
	CORSOrigin         string `toml:"cors_origin"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	AppEnv             string `toml:"app_env"`

	// Storage
	DataBackend  string `toml:"data_backend"`
	SQLiteDBPath string `toml:"sqlite_db_path"`
	PostgresURL  string `toml:"postgres_url"`

	// AMQP
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Receipts
	ReceiptBackend           string `toml:"receipt_backend"`
	ReceiptDir               string `toml:"receipt_dir"`
	GoogleDriveFolderID      string `toml:"google_drive_folder_id"`
	GoogleServiceAccountJSON string `toml:"google_service_account_json"`
	GoogleServiceAccountFile string `toml:"google_service_account_file"`

	// OCR
	VeryfiURL      string        `toml:"veryfi_url"`
	VeryfiClientID string        `toml:"veryfi_client_id"`
	VeryfiUsername string        `toml:"veryfi_username"`
	VeryfiAPIKey   string        `toml:"veryfi_api_key"`
	ScanTimeout    time.Duration `toml:"scan_timeout"`

	// Notifications
	TelegramBotToken string        `toml:"telegram_bot_token"`
	NotifyTimeout    time.Duration `toml:"notify_timeout"`

	// Behaviour
	SessionTTL     time.Duration `toml:"session_ttl"`
	StoreTimeout   time.Duration `toml:"store_timeout"`
	ReportTimezone string        `toml:"report_timezone"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	loadErr error
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               "8081",
		CORSOrigin:         "http://localhost:8080",
		RateLimitPerMinute: 120,
		AppEnv:             "production",

		DataBackend:  "sqlite",
		SQLiteDBPath: "./data/spendwatch.db",

		AMQPURL:      "",
		AMQPExchange: "spendwatch",
		AMQPQueue:    "budget_alerts",

		ReceiptBackend: "local",
		ReceiptDir:     "./data/receipts",

		VeryfiURL:   "https://api.veryfi.com/api/v7/partner/documents",
		ScanTimeout: 30 * time.Second,

		NotifyTimeout: 5 * time.Second,

		SessionTTL:     24 * time.Hour,
		StoreTimeout:   7 * time.Second,
		ReportTimezone: "UTC",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by SPENDWATCH_CONFIG, and environment variables, in that order. A file
// that cannot be read is reported by Validate.
func Load() *Config {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			cfg.loadErr = fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.CORSOrigin = getEnv("CORS_ORIGIN", c.CORSOrigin)
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)

	c.DataBackend = getEnv("DATA_BACKEND", c.DataBackend)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.PostgresURL = getEnv("POSTGRES_URL", c.PostgresURL)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.ReceiptBackend = getEnv("RECEIPT_BACKEND", c.ReceiptBackend)
	c.ReceiptDir = getEnv("RECEIPT_DIR", c.ReceiptDir)
	c.GoogleDriveFolderID = getEnv("GOOGLE_DRIVE_FOLDER_ID", c.GoogleDriveFolderID)
	c.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", c.GoogleServiceAccountJSON)
	c.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", c.GoogleServiceAccountFile)

	c.VeryfiURL = getEnv("VERYFI_URL", c.VeryfiURL)
	c.VeryfiClientID = getEnv("VERYFI_CLIENT_ID", c.VeryfiClientID)
	c.VeryfiUsername = getEnv("VERYFI_USERNAME", c.VeryfiUsername)
	c.VeryfiAPIKey = getEnv("VERYFI_API_KEY", c.VeryfiAPIKey)
	c.ScanTimeout = getEnvDuration("SCAN_TIMEOUT", c.ScanTimeout)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", c.NotifyTimeout)

	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.StoreTimeout = getEnvDuration("STORE_TIMEOUT", c.StoreTimeout)
	c.ReportTimezone = getEnv("REPORT_TIMEZONE", c.ReportTimezone)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Location returns the zone calendar months are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Development reports whether error details may be shown to clients.
func (c *Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// OCREnabled reports whether receipt scanning has credentials.
func (c *Config) OCREnabled() bool {
	return c.VeryfiClientID != "" && c.VeryfiUsername != "" && c.VeryfiAPIKey != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.loadErr != nil {
		errors = append(errors, c.loadErr.Error())
	}

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !oneOf(c.DataBackend, "memory", "sqlite", "postgres") {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite postgres]", c.DataBackend))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	case "postgres":
		if c.PostgresURL == "" {
			errors = append(errors, "POSTGRES_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
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

	switch c.ReceiptBackend {
	case "local":
		if c.ReceiptDir == "" {
			errors = append(errors, "RECEIPT_DIR cannot be empty when using local receipt storage")
		}
	case "drive":
		if c.GoogleDriveFolderID == "" {
			errors = append(errors, "GOOGLE_DRIVE_FOLDER_ID is required when using drive receipt storage")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for drive receipt storage")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid receipt backend '%s': must be one of [local drive]", c.ReceiptBackend))
	}

	set := 0
	for _, v := range []string{c.VeryfiClientID, c.VeryfiUsername, c.VeryfiAPIKey} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		errors = append(errors, "VERYFI_CLIENT_ID, VERYFI_USERNAME and VERYFI_API_KEY must be set together")
	}

	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid report timezone '%s': %v", c.ReportTimezone, err))
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.NotifyTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid notify timeout %v: must be positive", c.NotifyTimeout))
	}
	if c.StoreTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid store timeout %v: must be positive", c.StoreTimeout))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}
	if !oneOf(c.LogFormat, "text", "json") {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
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
