// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for drivemirror. Settings resolve
// through an override chain: defaults -> config file ->
// environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Network NetworkConfig `toml:"network"`
	Mirror  MirrorConfig  `toml:"mirror"`
	Walker  WalkerConfig  `toml:"walker"`
	Rules   RulesConfig   `toml:"rules"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig controls the reconciliation engine: write batching, walk
// depth, and parallel batch dispatch.
type SyncConfig struct {
	BatchSize       int  `toml:"batch_size"`
	MaxDepth        int  `toml:"max_depth"`
	ParallelBatches int  `toml:"parallel_batches"`
	Propagate       bool `toml:"propagate"`
}

// NetworkConfig controls the remote provider HTTP client.
type NetworkConfig struct {
	APIBase string `toml:"api_base"`
	Timeout string `toml:"timeout"`
	Retries int    `toml:"retries"`
}

// MirrorConfig locates the mirror database.
type MirrorConfig struct {
	DBPath string `toml:"db_path"`
}

// WalkerConfig controls remote enumeration. SkipNames are glob patterns
// matched against node names; matching subtrees are never enumerated.
type WalkerConfig struct {
	SkipNames []string `toml:"skip_names"`
}

// RulesConfig optionally points at a category rule file replacing the
// embedded default set.
type RulesConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output: level, optional rotating file, and
// rotation bounds.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
}
