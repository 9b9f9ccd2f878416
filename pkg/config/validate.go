package config

import (
	"errors"
	"fmt"

	"github.com/pverhoef/intake/pkg/intercept"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// body.min_data_rate must be non-negative.
	if c.Body.MinDataRate < 0 {
		errs = append(errs, fmt.Errorf("body.min_data_rate must be >= 0, got %d", c.Body.MinDataRate))
	}

	// body.chunk_size must be positive.
	if c.Body.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("body.chunk_size must be > 0, got %d", c.Body.ChunkSize))
	}

	// body.rate_check_interval must be positive.
	if c.Body.RateCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("body.rate_check_interval must be > 0, got %v", c.Body.RateCheckInterval))
	}

	// body.encodings must name supported codecs.
	for _, enc := range c.Body.Encodings {
		if !intercept.Supported(enc) {
			errs = append(errs, fmt.Errorf("body.encodings: unsupported encoding %q", enc))
		}
	}

	// limits.requests_per_second must be non-negative; burst is required
	// whenever a rate is set.
	if c.Limits.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("limits.requests_per_second must be >= 0, got %g", c.Limits.RequestsPerSecond))
	}
	if c.Limits.RequestsPerSecond > 0 && c.Limits.Burst <= 0 {
		errs = append(errs, fmt.Errorf("limits.burst must be > 0 when limits.requests_per_second is set, got %d", c.Limits.Burst))
	}

	// logging.level must be a known value.
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
