package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/migrate"
	"github.com/willibrandon/tenantmove/internal/worker"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	userMode   bool
	jsonOutput bool
)

// Exit codes of the migration commands, one per failure kind.
const (
	ExitFailed        = 1
	ExitNotFound      = 4
	ExitConflict      = 5
	ExitQuotaExceeded = 6
	ExitInvariant     = 7
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tenantmove",
		Short: "Move users between tenants and regions",
		Long: `tenantmove moves one user out of a source tenant into a new or existing
tenant, possibly in another region. Requests are queued and processed by a
background worker, or run directly with export and restore.

Service Management:
  tenantmove install [--user]   Install the worker as a system/user service
  tenantmove uninstall          Remove the service
  tenantmove start              Start the installed service
  tenantmove stop               Stop the running service
  tenantmove status [--json]    Show service and queue status

Requests:
  tenantmove enqueue            Queue a migration request
  tenantmove requests           List queued requests
  tenantmove requeue ID         Return a failed request to the queue

Direct Run:
  tenantmove run [--debug]      Run the worker in foreground mode
  tenantmove export             Extract a user into an archive
  tenantmove restore            Restore an archive into a region
  tenantmove verify ARCHIVE     Check archive checksums`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/tenantmove/tenantmove.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newEnqueueCmd(),
		newRequestsCmd(),
		newRequeueCmd(),
		newExportCmd(),
		newRestoreCmd(),
		newVerifyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// loadConfig loads the configuration or exits with ExitConfigError.
func loadConfig() *config.Config {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(worker.ExitConfigError)
	}
	return cfg
}

// initLogging starts the process logger from the logging section. --debug
// overrides the configured level.
func initLogging(cfg *config.Config) {
	level := logger.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logger.LevelDebug
	}
	logger.InitLogger(level, cfg.Logging.File)
	if debug && logger.LogPath != "" {
		fmt.Fprintf(os.Stderr, "Debug mode: Logs written to %s\n", logger.LogPath)
	}
}

func exitCode(err error) int {
	switch migrate.KindOf(err) {
	case migrate.KindNotFound:
		return ExitNotFound
	case migrate.KindConflict:
		return ExitConflict
	case migrate.KindQuotaExceeded:
		return ExitQuotaExceeded
	case migrate.KindInvariant:
		return ExitInvariant
	default:
		return ExitFailed
	}
}
