package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "waveflow",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engine: EngineConfig{
			QueryTimeout:    5 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RecoverOnStart:  true,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				WriteMode:         "sync",
				ValueLogFileSize:  1073741824, // 1GB
				NumVersionsToKeep: 1,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
