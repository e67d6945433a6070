package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"

	"github.com/willibrandon/tenantmove/internal/config"
)

// Exit codes for CLI commands
const (
	ExitSuccess          = 0
	ExitPermissionDenied = 1
	ExitServiceExists    = 2
	ExitConfigError      = 3
	ExitServiceNotFound  = 1
	ExitAlreadyRunning   = 2
	ExitStartFailed      = 3
	ExitNotRunning       = 1
	ExitStopFailed       = 2
)

const serviceName = "tenantmove"

// Service management errors.
var (
	ErrServiceInstalled    = errors.New("service already installed")
	ErrServiceNotInstalled = errors.New("service not installed")
	ErrServiceRunning      = errors.New("service already running")
	ErrServiceNotRunning   = errors.New("service not running")
)

// ServiceConfig holds configuration for creating the service.
type ServiceConfig struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// program implements service.Program around a Daemon.
type program struct {
	daemon     *Daemon
	configPath string
}

// Start must return quickly, so the daemon is started in a goroutine.
func (p *program) Start(s service.Service) error {
	cfg, err := config.LoadFromPath(p.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p.daemon = NewDaemon(cfg, nil, nil)
	go func() {
		if err := p.daemon.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Worker start error: %v\n", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.daemon != nil {
		return p.daemon.Stop()
	}
	return nil
}

// NewService creates the platform service for the worker. The service
// manager runs "tenantmove run" with the same config and debug flags.
func NewService(svcConfig ServiceConfig) (service.Service, error) {
	prg := &program{configPath: svcConfig.ConfigPath}

	cfg := &service.Config{
		Name:        serviceName,
		DisplayName: "Tenant Migration Worker",
		Description: "Moves users between tenants and regions from the migration request queue.",
	}

	userMode := svcConfig.UserMode || isUserServiceInstalled()
	if userMode {
		cfg.Option = service.KeyValue{"UserService": true}
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"KeepAlive": true,
			"RunAtLoad": true,
		})
	case "linux":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"Restart": "on-failure",
		})
	case "windows":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   10,
		})
	}

	cfg.Arguments = serviceArguments(svcConfig)
	return service.New(prg, cfg)
}

func serviceArguments(svcConfig ServiceConfig) []string {
	args := []string{"run"}
	if svcConfig.ConfigPath != "" {
		args = append(args, "--config", svcConfig.ConfigPath)
	}
	if svcConfig.Debug {
		args = append(args, "--debug")
	}
	return args
}

func mergeOptions(base, additional service.KeyValue) service.KeyValue {
	if base == nil {
		base = service.KeyValue{}
	}
	for k, v := range additional {
		base[k] = v
	}
	return base
}

// Install installs the service.
func Install(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err == nil && status != service.StatusUnknown {
		return ErrServiceInstalled
	}

	if err := svc.Install(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil || status == service.StatusUnknown {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		_ = svc.Stop()
	}

	if err := svc.Uninstall(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// StartService starts the installed service.
func StartService() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		return ErrServiceRunning
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	status, err = svc.Status()
	if err != nil || status != service.StatusRunning {
		return fmt.Errorf("service failed to start (check logs)")
	}
	return nil
}

// StopService stops the running service.
func StopService() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status != service.StatusRunning {
		return ErrServiceNotRunning
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return nil
}

// ServiceStatus represents the service status for CLI output.
type ServiceStatus struct {
	State   string `json:"state" yaml:"state"`
	PID     int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// GetStatus reports the installed service state. The PID is read from
// pidFile when the service is running.
func GetStatus(pidFile string) (*ServiceStatus, error) {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	svcStatus, err := svc.Status()
	if err != nil {
		return &ServiceStatus{State: "not_installed"}, nil
	}

	status := &ServiceStatus{}
	switch svcStatus {
	case service.StatusRunning:
		status.State = "running"
		if pid, err := ReadPIDFile(pidFile); err == nil {
			status.PID = pid
		}
		status.Version = Version
	case service.StatusStopped:
		status.State = "stopped"
	default:
		status.State = "unknown"
	}
	return status, nil
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// isUserServiceInstalled checks if the service plist exists in the user's LaunchAgents.
func isUserServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(homeDir, "Library", "LaunchAgents", serviceName+".plist"))
	return err == nil
}
