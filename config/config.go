// Package config provides configuration management for Waveflow.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Waveflow.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Engine is the workflow engine configuration.
	Engine EngineConfig `mapstructure:"engine"`

	// Storage is the history persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// RateLimit is the signal ingress rate limit configuration.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// RateLimitConfig holds per-client rate limit settings for signal delivery.
type RateLimitConfig struct {
	// Enabled enables rate limiting on signal endpoints.
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained request rate allowed per client.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`

	// Burst is the maximum burst size allowed per client.
	Burst int `mapstructure:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	// QueryTimeout is the maximum duration to wait for a query response.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	// ShutdownTimeout is the maximum duration to wait for live executions
	// to park before shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RecoverOnStart replays unfinished executions from stored history
	// when the engine starts.
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// WriteMode selects how history appends reach disk (sync, async).
	WriteMode string `mapstructure:"write_mode" validate:"oneof=sync async"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter type (otlp).
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout is the exporter request timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra headers sent with each export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the sampling strategy (ratio, always_on, always_off).
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s}",
		c.App.Name, c.Server.Port, c.App.Environment)
}
