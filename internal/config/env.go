package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "DRIVEMIRROR_CONFIG"
	EnvDB     = "DRIVEMIRROR_DB"
	EnvToken  = "DRIVEMIRROR_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DRIVEMIRROR_CONFIG: override config file path
	DBPath     string // DRIVEMIRROR_DB: override mirror database path
	Token      string // DRIVEMIRROR_TOKEN: bearer token for the remote provider
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		Token:      os.Getenv(EnvToken),
	}
}
