package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration values.
type Config struct {
	Secret           string
	DatabaseDriver   string
	DatabaseDSN      string
	HTTPPort         string
	LogLevel         string
	LogFormat        string
	MaxTxRetries     int
	OperationTimeout time.Duration

	// BootstrapAdminEmail names an admin created on startup when missing.
	BootstrapAdminEmail string
}

const (
	defaultPort      = "8080"
	defaultDriver    = "sqlite"
	defaultSQLiteDSN = "file:medeasy.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	defaultRetries   = 3
	defaultTimeout   = 5 * time.Second
)

// Load reads configuration from environment variables with reasonable defaults.
func Load() Config {
	secret := os.Getenv("SECRET")
	if secret == "" {
		secret = "dev_secret"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = defaultPort
	}
	// Validate that port is numeric.
	if _, err := strconv.Atoi(port); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to %s", port, defaultPort)
		port = defaultPort
	}

	driver := os.Getenv("DB_DRIVER")
	switch driver {
	case "":
		driver = defaultDriver
	case "sqlite", "pgx":
	default:
		log.Printf("unsupported DB_DRIVER %q, defaulting to %s", driver, defaultDriver)
		driver = defaultDriver
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" && driver == "sqlite" {
		dsn = defaultSQLiteDSN
	}

	retries := defaultRetries
	if raw := os.Getenv("TX_MAX_RETRIES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			log.Printf("invalid TX_MAX_RETRIES value %q, defaulting to %d", raw, defaultRetries)
		} else {
			retries = n
		}
	}

	timeout := defaultTimeout
	if raw := os.Getenv("OPERATION_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Printf("invalid OPERATION_TIMEOUT value %q, defaulting to %s", raw, defaultTimeout)
		} else {
			timeout = d
		}
	}

	return Config{
		Secret:           secret,
		DatabaseDriver:   driver,
		DatabaseDSN:      dsn,
		HTTPPort:         port,
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		MaxTxRetries:     retries,
		OperationTimeout: timeout,

		BootstrapAdminEmail: os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
