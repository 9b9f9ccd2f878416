// Package config provides unified configuration for the intake server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (INTAKE_ prefix)
//  4. Validation
package config

import "time"

// Config holds all configuration for the intake server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Body          BodyConfig          `yaml:"body"`
	Limits        LimitsConfig        `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 0 (unbounded; the body pipeline enforces progress)
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// BodyConfig holds request body pipeline settings.
type BodyConfig struct {
	// MinDataRate is the minimum acceptable arrival rate for request
	// content, in bytes per second. 0 disables the check.
	MinDataRate int64 `yaml:"min_data_rate"` // default: 0

	// ChunkSize is the read buffer size used when pulling content from
	// the request stream.
	ChunkSize int `yaml:"chunk_size"` // default: 8192

	// RateCheckInterval bounds how long a blocked read waits before
	// re-checking the minimum data rate.
	RateCheckInterval time.Duration `yaml:"rate_check_interval"` // default: 1s

	// Encodings lists the Content-Encoding values decoded transparently.
	// Supported values: gzip, deflate, zstd.
	Encodings []string `yaml:"encodings"` // default: [gzip, deflate, zstd]
}

// LimitsConfig holds request admission settings.
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 0 (disabled)
	Burst             int     `yaml:"burst"`               // default: 0
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"; default: "info"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Body: BodyConfig{
			ChunkSize:         8192,
			RateCheckInterval: time.Second,
			Encodings:         []string{"gzip", "deflate", "zstd"},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
