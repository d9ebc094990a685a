// Package cmd holds the demuxmgr command line.
package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/config"
	apperrors "github.com/3leaps/demuxmgr/internal/errors"
	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/internal/server/handlers"
)

// AppIdentity names the binary and its configuration surface.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	appIdentity *AppIdentity
)

var rootCmd = &cobra.Command{
	Use:   "demuxmgr",
	Short: "Demultiplex and deliver sequencing runs",
	Long: `demuxmgr discovers sequencing run folders, converts them to FASTQ,
delivers the files to each request's repository folder, and notifies the
lab at every step.

Without a subcommand it performs one processing pass, as 'demuxmgr process'.
Schedule it from cron; overlapping passes exit quietly.

Configuration is read from the built-in defaults, then the config file
(--config or $XDG_CONFIG_HOME/demuxmgr/config.yaml), then DEMUXMGR_*
environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
		config.SetConfigFile(cfgFile)
	},
	RunE: runProcess,
}

func init() {
	appIdentity = &AppIdentity{BinaryName: "demuxmgr", EnvPrefix: config.EnvPrefix, ConfigName: "demuxmgr"}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/demuxmgr/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// SetVersionInfo records the build identity injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(handlers.VersionInfo{Version: version, Commit: commit, BuildDate: buildDate})
}

// GetAppIdentity returns the identity set at init, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	return exitCode(rootCmd.ExecuteContext(ctx))
}

func exitCode(err error) int {
	if err == nil {
		return foundry.ExitSuccess
	}
	var exit *apperrors.ExitError
	if errors.As(err, &exit) {
		observability.CLILogger.Error(exit.Msg, zap.Error(exit.Err))
		return exit.Code
	}
	observability.CLILogger.Error("Command failed", zap.Error(err))
	return foundry.ExitFailure
}

func exitError(code int, msg string, err error) error {
	return apperrors.NewExitError(code, msg, err)
}

// loadConfig loads and validates the configuration for commands that
// touch runs.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Cannot load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid configuration", err)
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.Strings("roots", cfg.Roots),
		zap.String("registry", registryLocation(cfg)))
	return cfg, nil
}

func registryLocation(cfg *config.Config) string {
	if cfg.Registry.URL != "" {
		return cfg.Registry.URL
	}
	return cfg.Registry.Path
}
