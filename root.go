package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dhgarchive/drivemirror/internal/config"
	"github.com/dhgarchive/drivemirror/internal/drive"
	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/internal/rules"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE, available to all subcommands afterwards.
var resolvedCfg *config.Config

// resolvedEnv holds the environment overrides read alongside the config,
// kept because the bearer token never passes through the config file.
var resolvedEnv config.EnvOverrides

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivemirror",
		Short:   "Relational mirror of a remote file hierarchy",
		Long:    "Syncs a remote file store's hierarchy into a flat local database and keeps it consistent: rename detection, safe deletion, attribute inheritance, and integrity auditing.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "mirror database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newPropagateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig() error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	if flagDBPath != "" {
		cli.DBPath = &flagDBPath
	}

	resolvedEnv = config.ReadEnvOverrides()

	cfg, err := config.Resolve(resolvedEnv, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. When a log file is
// configured, output goes there as JSON through a rotating writer;
// otherwise text to stderr.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if resolvedCfg != nil {
		level = config.LevelFromString(resolvedCfg.Logging.Level)
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if resolvedCfg != nil && resolvedCfg.Logging.File != "" {
		writer := &lumberjack.Logger{
			Filename:   resolvedCfg.Logging.File,
			MaxSize:    resolvedCfg.Logging.MaxSizeMB,
			MaxBackups: resolvedCfg.Logging.MaxBackups,
			MaxAge:     resolvedCfg.Logging.MaxAgeDays,
			Compress:   true,
		}

		return slog.New(slog.NewJSONHandler(writer, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the mirror database at the resolved path. Failure here
// means the mirror collaborator is unreachable, which is an unrecoverable
// initialization error for every subcommand.
func openStore(logger *slog.Logger) (*mirror.SQLiteStore, error) {
	store, err := mirror.NewStore(resolvedCfg.Mirror.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening mirror database: %w", err)
	}

	return store, nil
}

// buildDriveClient assembles the remote provider client from the resolved
// network config and the token environment variable.
func buildDriveClient(logger *slog.Logger) (*drive.Client, error) {
	if resolvedEnv.Token == "" {
		return nil, fmt.Errorf("no API token: set %s", config.EnvToken)
	}

	httpClient := &http.Client{Timeout: resolvedCfg.Network.TimeoutDuration()}
	token := drive.StaticTokenSource(resolvedEnv.Token)

	return drive.NewClient(resolvedCfg.Network.APIBase, httpClient, token, logger,
		drive.WithMaxRetries(resolvedCfg.Network.Retries)), nil
}

// loadRules returns the configured rule set, falling back to the embedded
// defaults when no override file is configured.
func loadRules() (*rules.RuleSet, error) {
	if resolvedCfg.Rules.Path != "" {
		return rules.LoadFile(resolvedCfg.Rules.Path)
	}

	return rules.Default()
}
