package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/worker"
)

// newRunCmd creates the run subcommand for foreground execution
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker in foreground",
		Long: `Run the migration worker in foreground mode. The worker polls the request
queue and processes one request at a time until interrupted. The installed
service runs this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground()
		},
	}
}

// runForeground runs the worker until SIGINT or SIGTERM.
func runForeground() error {
	cfg := loadConfig()
	initLogging(cfg)
	defer logger.Close()

	worker.Version = version
	d := worker.NewDaemon(cfg, nil, nil)

	if err := d.Start(); err != nil {
		if errors.Is(err, worker.ErrWorkerRunning) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(worker.ExitAlreadyRunning)
		}
		fmt.Fprintf(os.Stderr, "Error starting worker: %v\n", err)
		os.Exit(worker.ExitStartFailed)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

	if err := d.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping worker: %v\n", err)
		os.Exit(1)
	}
	return nil
}
