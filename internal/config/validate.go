package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gobwas/glob"
)

// Validation range constants.
const (
	minBatchSize       = 1
	maxBatchSize       = 1000
	minParallelBatches = 1
	maxParallelBatches = 32
	maxRetries         = 10
	minTimeout         = 1 * time.Second
	maxTimeout         = 10 * time.Minute
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateWalker(&cfg.Walker)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSync(sc *SyncConfig) []error {
	var errs []error

	if sc.BatchSize < minBatchSize || sc.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf(
			"sync.batch_size must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, sc.BatchSize))
	}

	if sc.ParallelBatches < minParallelBatches || sc.ParallelBatches > maxParallelBatches {
		errs = append(errs, fmt.Errorf(
			"sync.parallel_batches must be between %d and %d, got %d",
			minParallelBatches, maxParallelBatches, sc.ParallelBatches))
	}

	return errs
}

func validateNetwork(nc *NetworkConfig) []error {
	var errs []error

	if u, err := url.Parse(nc.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("network.api_base must be an absolute URL, got %q", nc.APIBase))
	}

	if nc.Retries < 0 || nc.Retries > maxRetries {
		errs = append(errs, fmt.Errorf(
			"network.retries must be between 0 and %d, got %d", maxRetries, nc.Retries))
	}

	d, err := time.ParseDuration(nc.Timeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("network.timeout: invalid duration %q", nc.Timeout))
	} else if d < minTimeout || d > maxTimeout {
		errs = append(errs, fmt.Errorf(
			"network.timeout must be between %s and %s, got %s", minTimeout, maxTimeout, d))
	}

	return errs
}

func validateWalker(wc *WalkerConfig) []error {
	var errs []error

	for _, pattern := range wc.SkipNames {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("walker.skip_names: invalid pattern %q: %w", pattern, err))
		}
	}

	return errs
}

func validateLogging(lc *LoggingConfig) []error {
	var errs []error

	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		errs = append(errs, fmt.Errorf(
			"logging.level must be one of debug, info, warn, error, got %q", lc.Level))
	}

	if lc.MaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("logging.max_size_mb must be at least 1, got %d", lc.MaxSizeMB))
	}

	if lc.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("logging.max_backups must not be negative, got %d", lc.MaxBackups))
	}

	if lc.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("logging.max_age_days must not be negative, got %d", lc.MaxAgeDays))
	}

	return errs
}

// Timeout returns the parsed network timeout. Call only after Validate.
func (nc *NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(nc.Timeout)
	if err != nil {
		return minTimeout
	}

	return d
}

// LevelFromString maps a config level string to a slog.Level, defaulting
// to info for anything unparseable.
func LevelFromString(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}

	return level
}
