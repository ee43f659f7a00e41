// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Upload      UploadConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Extract     ExtractConfig
	Storage     StorageConfig
	Maintenance MaintenanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ApplySchema creates missing tables on startup (default: true)
	ApplySchema bool `env:"DB_APPLY_SCHEMA" default:"true"`
}

// UploadConfig holds spreadsheet processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel extraction runs (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of records to upsert per batch (default: 500)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"500"`

	// Timeout is the maximum duration for a single run (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`

	// StatusCacheTTL is how long finished run statuses stay in memory (default: 15m)
	StatusCacheTTL time.Duration `env:"UPLOAD_STATUS_CACHE_TTL" default:"15m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects /v1 requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ExtractConfig holds spreadsheet extraction settings.
type ExtractConfig struct {
	// Locale selects number and date conventions: pt-BR or en-US (default: pt-BR)
	Locale string `env:"EXTRACT_LOCALE" default:"pt-BR"`

	// OrderTypes are type-column values that mark an order row (default: PED,ACU,DEV)
	OrderTypes []string `env:"EXTRACT_ORDER_TYPES" default:"PED,ACU,DEV"`

	// HeaderSearchRows is how many leading rows are scanned for a labeled header (default: 30)
	HeaderSearchRows int `env:"EXTRACT_HEADER_SEARCH_ROWS" default:"30"`

	// SubtotalTolerance is the allowed gap between reported and computed line totals (default: 0.01)
	SubtotalTolerance float64 `env:"EXTRACT_SUBTOTAL_TOLERANCE" default:"0.01"`

	// Verbose keeps the diagnostic log on every run (default: false)
	Verbose bool `env:"EXTRACT_VERBOSE" default:"false"`
}

// StorageConfig holds object storage settings for file references.
type StorageConfig struct {
	// LocalDir is the root for file:// references; empty disables them
	LocalDir string `env:"STORAGE_LOCAL_DIR"`

	// GCSEnabled enables gs:// references (default: true)
	GCSEnabled bool `env:"STORAGE_GCS_ENABLED" default:"true"`

	// GCSBucket restricts gs:// references to one bucket when set
	GCSBucket string `env:"STORAGE_GCS_BUCKET" envAlt:"GCS_BUCKET_NAME"`
}

// MaintenanceConfig holds settings for the background run reaper.
type MaintenanceConfig struct {
	// StaleAfter marks runs stuck in processing as failed after this long (default: 1h)
	StaleAfter time.Duration `env:"MAINTENANCE_STALE_AFTER" default:"1h"`

	// RetentionDays is how long finished runs and their records are kept (default: 90)
	RetentionDays int `env:"MAINTENANCE_RETENTION_DAYS" default:"90"`

	// CheckInterval is how often the reaper runs (default: 1h)
	CheckInterval time.Duration `env:"MAINTENANCE_CHECK_INTERVAL" default:"1h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
