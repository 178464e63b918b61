package config

// Default values for configuration options, the "layer 0" of the
// override chain. Chosen so the tool works against a real store with
// nothing but a token and a root id.
const (
	defaultBatchSize       = 50
	defaultMaxDepth        = -1 // unlimited
	defaultParallelBatches = 1
	defaultAPIBase         = "https://www.googleapis.com/drive/v3"
	defaultTimeout         = "30s"
	defaultRetries         = 3
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 50
	defaultLogMaxBackups   = 3
	defaultLogMaxAgeDays   = 30
)

// DefaultConfig returns a Config populated with all default values.
// This is both the starting point for TOML decoding (unset fields keep
// their defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			BatchSize:       defaultBatchSize,
			MaxDepth:        defaultMaxDepth,
			ParallelBatches: defaultParallelBatches,
		},
		Network: NetworkConfig{
			APIBase: defaultAPIBase,
			Timeout: defaultTimeout,
			Retries: defaultRetries,
		},
		Logging: LoggingConfig{
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
