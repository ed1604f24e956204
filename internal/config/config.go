// Package config provides centralized configuration management for the import
// server. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all server configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	S3          S3Config
	Upload      UploadConfig
	Import      ImportConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Maintenance MaintenanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StorageConfig selects the storage backends. Empty URLs fall back to the
// in-memory implementations.
type StorageConfig struct {
	// DatabaseURL is the PostgreSQL connection string for job history and records
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// RedisURL holds upload sessions and locks when set
	RedisURL string `env:"REDIS_URL"`

	// SpoolDir holds received upload bytes (default: data/spool)
	SpoolDir string `env:"SPOOL_DIR" default:"data/spool"`

	// ReportDir holds error reports when S3 is not configured (default: data/reports)
	ReportDir string `env:"REPORT_DIR" default:"data/reports"`
}

// S3Config configures report storage in S3. Reports go to S3 when Bucket is set.
type S3Config struct {
	Bucket    string        `env:"S3_BUCKET"`
	Prefix    string        `env:"S3_PREFIX" default:"bulkimport/reports"`
	Region    string        `env:"AWS_REGION" default:"us-east-1"`
	Endpoint  string        `env:"S3_ENDPOINT"`
	AccessKey string        `env:"S3_ACCESS_KEY_ID"`
	SecretKey string        `env:"S3_SECRET_ACCESS_KEY"`
	LinkTTL   time.Duration `env:"S3_LINK_TTL" default:"15m"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxChunkSize is the largest accepted chunk body (default: 8MB)
	MaxChunkSize int64 `env:"UPLOAD_MAX_CHUNK_SIZE" default:"8388608"`

	// SessionTTL is how long an upload session lives after its last chunk (default: 24h)
	SessionTTL time.Duration `env:"UPLOAD_SESSION_TTL" default:"24h"`
}

// ImportConfig holds import job settings.
type ImportConfig struct {
	// MaxConcurrent is the maximum number of imports running at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a start request waits for a free slot (default: 10s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"10s"`

	// Timeout is the maximum duration of a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// LockTTL is the per-upload lease, extended while the import runs (default: 1m)
	LockTTL time.Duration `env:"IMPORT_LOCK_TTL" default:"1m"`

	// ProgressEvery publishes progress every N rows (default: 25)
	ProgressEvery int `env:"IMPORT_PROGRESS_EVERY" default:"25"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 600)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`

	// Burst is the bucket size per IP (default: 60)
	Burst int `env:"RATE_LIMIT_BURST" default:"60"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// CSRF enables double-submit token checks on state-changing requests (default: true)
	CSRF bool `env:"CSRF_ENABLED" default:"true"`

	// AllowedOrigins is a comma-separated CORS allow list; empty disables CORS
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json or pretty (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MaintenanceConfig holds the periodic cleanup settings.
type MaintenanceConfig struct {
	// SpoolRetention removes spooled uploads untouched for this long (default: 24h)
	SpoolRetention time.Duration `env:"MAINTENANCE_SPOOL_RETENTION" default:"24h"`

	// HistoryRetention removes finished jobs older than this (default: 720h)
	HistoryRetention time.Duration `env:"MAINTENANCE_HISTORY_RETENTION" default:"720h"`

	// CheckInterval is how often maintenance runs (default: 1h)
	CheckInterval time.Duration `env:"MAINTENANCE_CHECK_INTERVAL" default:"1h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
