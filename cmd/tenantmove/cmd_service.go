package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tenantmove/internal/queue"
	"github.com/willibrandon/tenantmove/internal/worker"
)

// newInstallCmd creates the install subcommand
func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the worker as a system service",
		Long: `Install the migration worker as a service that starts on boot.

Use --user to install as a user service (no elevated privileges required).
System service installation requires administrator/root privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcConfig := worker.ServiceConfig{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			}

			if err := worker.Install(svcConfig); err != nil {
				var permErr *worker.PermissionError
				switch {
				case errors.As(err, &permErr):
					fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
					os.Exit(worker.ExitPermissionDenied)
				case errors.Is(err, worker.ErrServiceInstalled):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					fmt.Fprintf(os.Stderr, "Use 'tenantmove uninstall' first to reinstall\n")
					os.Exit(worker.ExitServiceExists)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(worker.ExitConfigError)
			}

			fmt.Println("tenantmove installed successfully")
			if userMode {
				fmt.Println("Installed as user service")
			} else {
				fmt.Println("Installed as system service")
			}
			fmt.Println("\nTo start the service:")
			fmt.Println("  tenantmove start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

// newUninstallCmd creates the uninstall subcommand
func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the worker service",
		Long:  `Remove the tenantmove service. The service will be stopped if running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := worker.Uninstall(); err != nil {
				var permErr *worker.PermissionError
				switch {
				case errors.As(err, &permErr):
					fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
					os.Exit(worker.ExitPermissionDenied)
				case errors.Is(err, worker.ErrServiceNotInstalled):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(worker.ExitServiceNotFound)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Println("tenantmove uninstalled successfully")
			return nil
		},
	}
}

// newStartCmd creates the start subcommand
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := worker.StartService(); err != nil {
				switch {
				case errors.Is(err, worker.ErrServiceNotInstalled):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					fmt.Fprintf(os.Stderr, "Use 'tenantmove install' first\n")
					os.Exit(worker.ExitServiceNotFound)
				case errors.Is(err, worker.ErrServiceRunning):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(worker.ExitAlreadyRunning)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(worker.ExitStartFailed)
			}

			fmt.Println("tenantmove started")
			return nil
		},
	}
}

// newStopCmd creates the stop subcommand
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := worker.StopService(); err != nil {
				switch {
				case errors.Is(err, worker.ErrServiceNotInstalled):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(worker.ExitServiceNotFound)
				case errors.Is(err, worker.ErrServiceNotRunning):
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(worker.ExitNotRunning)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(worker.ExitStopFailed)
			}

			fmt.Println("tenantmove stopped")
			return nil
		},
	}
}

// statusReport is the status command output.
type statusReport struct {
	Service *worker.ServiceStatus `json:"service"`
	Queue   map[queue.Status]int  `json:"queue,omitempty"`
}

// newStatusCmd creates the status subcommand
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			svc, err := worker.GetStatus(cfg.Worker.PIDFile)
			if err != nil {
				return err
			}
			report := statusReport{Service: svc}

			q, err := queue.Open(cfg.Queue.Path)
			if err == nil {
				report.Queue, err = worker.CountByStatus(context.Background(), q)
				q.Close()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: queue unavailable: %v\n", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printHumanStatus(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func printHumanStatus(report statusReport) {
	status := report.Service
	fmt.Printf("tenantmove status: %s\n", status.State)
	if status.PID > 0 {
		fmt.Printf("  PID:        %d\n", status.PID)
	}
	if status.Version != "" {
		fmt.Printf("  Version:    %s\n", status.Version)
	}

	if report.Queue != nil {
		fmt.Println("\nQueue:")
		for _, st := range queue.AllStatuses() {
			fmt.Printf("  %-10s %d\n", st, report.Queue[st])
		}
	}

	switch status.State {
	case "not_installed":
		fmt.Println("\nTo install the service:")
		fmt.Println("  tenantmove install")
	case "stopped":
		fmt.Println("\nTo start the service:")
		fmt.Println("  tenantmove start")
	}
}
