package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/metrics"
	"github.com/willibrandon/tenantmove/internal/migrate"
	"github.com/willibrandon/tenantmove/internal/queue"
	"github.com/willibrandon/tenantmove/internal/region"
)

// Version is set by ldflags during build.
var Version = "dev"

// ErrStopTimeout is returned by Stop when the worker outlives the shutdown
// timeout. The queue and region stores stay open until it exits.
var ErrStopTimeout = errors.New("worker did not stop in time")

const defaultStopTimeout = 30 * time.Second

// State represents the daemon's current operational state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Daemon hosts one Worker with its queue, region stores and PID file.
type Daemon struct {
	cfg *config.Config

	state     State
	stateMu   sync.RWMutex
	startTime time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopTimeout time.Duration

	log *slog.Logger

	stores region.Stores
	queue  *queue.Store
	worker *Worker
}

// NewDaemon creates a daemon. A nil stores opens the regions of cfg.
func NewDaemon(cfg *config.Config, stores region.Stores, log *slog.Logger) *Daemon {
	if log == nil {
		log = logger.Logger()
	}
	if stores == nil {
		stores = region.NewFactory(cfg, log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:    cfg,
		state:  StateStopped,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		stores: stores,

		stopTimeout: defaultStopTimeout,
	}
}

// Start claims the PID file, opens the queue and starts the worker loop.
func (d *Daemon) Start() error {
	d.setState(StateStarting)
	d.startTime = time.Now()
	d.log.Info("starting tenantmove worker", "version", Version, "queue", d.cfg.Queue.Path)

	opts, err := migrate.OptionsFromConfig(d.cfg)
	if err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := WritePIDFile(d.pidFile()); err != nil {
		d.setState(StateStopped)
		return err
	}

	q, err := queue.Open(d.cfg.Queue.Path)
	if err != nil {
		_ = RemovePIDFile(d.pidFile())
		d.setState(StateStopped)
		return fmt.Errorf("failed to open queue: %w", err)
	}
	d.queue = q

	d.worker = New(q,
		migrate.NewCreator(d.stores, opts, d.log),
		migrate.NewRunner(d.stores, opts, d.log),
		Options{
			PollInterval: d.cfg.Worker.PollInterval,
			SourceRegion: d.cfg.Worker.SourceRegion,
			KeepArchives: d.cfg.Worker.KeepArchives,
		},
		d.log,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.worker.Run(d.ctx); err != nil {
			d.log.Error("worker exited", "error", err)
		}
	}()

	d.setState(StateRunning)
	return nil
}

// Stop cancels the worker and waits up to 30 seconds for the request in
// progress to finish. A worker still running after that keeps the queue
// open so its final status can be written.
func (d *Daemon) Stop() error {
	d.setState(StateStopping)
	d.log.Info("stopping tenantmove worker")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	q := d.queue
	d.queue = nil

	var err error
	select {
	case <-done:
		err = d.release(q)
	case <-time.After(d.stopTimeout):
		var current int64
		if d.worker != nil {
			current = d.worker.Current()
		}
		d.log.Error("shutdown timeout, request still in progress", "request_id", current, "timeout", d.stopTimeout)
		go func() {
			<-done
			if err := d.release(q); err != nil {
				d.log.Error("failed to close queue", "error", err)
			}
		}()
		err = fmt.Errorf("%w: request %d still in progress after %s", ErrStopTimeout, current, d.stopTimeout)
	}

	if rmErr := RemovePIDFile(d.pidFile()); rmErr != nil && err == nil {
		err = rmErr
	}

	d.setState(StateStopped)
	d.log.Info("tenantmove worker stopped")
	return err
}

// release closes the region stores and q once the worker has exited.
func (d *Daemon) release(q *queue.Store) error {
	if closer, ok := d.stores.(interface{ Close() }); ok {
		closer.Close()
	}
	if q == nil {
		return nil
	}
	return q.Close()
}

// Wait blocks until the daemon is stopped.
func (d *Daemon) Wait() {
	<-d.ctx.Done()
	d.wg.Wait()
}

// State returns the current daemon state.
func (d *Daemon) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Daemon) setState(state State) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state = state
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

func (d *Daemon) pidFile() string {
	if d.cfg.Worker.PIDFile != "" {
		return d.cfg.Worker.PIDFile
	}
	return DefaultPIDFilePath()
}

// Status holds the daemon's current status information.
type Status struct {
	State     State           `json:"state"`
	PID       int             `json:"pid"`
	Uptime    time.Duration   `json:"uptime"`
	StartTime time.Time       `json:"start_time"`
	Version   string          `json:"version"`
	Queue     QueueStatus     `json:"queue"`
	Requests  metrics.Summary `json:"requests"`
	Warnings  int             `json:"warnings"`
	Errors    int             `json:"errors"`

	// Recent holds the latest warning and error log lines.
	Recent []string `json:"recent,omitempty"`
}

// QueueStatus counts requests per status.
type QueueStatus struct {
	Path   string               `json:"path"`
	Counts map[queue.Status]int `json:"counts,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Status returns a summary of the daemon's current status.
func (d *Daemon) Status(ctx context.Context) *Status {
	warn, errs := logger.GetCounts()
	status := &Status{
		State:     d.State(),
		PID:       os.Getpid(),
		Uptime:    d.Uptime(),
		StartTime: d.startTime,
		Version:   Version,
		Queue:     QueueStatus{Path: d.cfg.Queue.Path},
		Warnings:  warn,
		Errors:    errs,
	}
	if d.worker != nil {
		status.Requests = d.worker.Stats().Since(d.startTime)
	}
	for _, e := range logger.GetEntries() {
		status.Recent = append(status.Recent, e.Format())
	}

	if d.queue != nil {
		counts, err := CountByStatus(ctx, d.queue)
		if err != nil {
			status.Queue.Error = err.Error()
		} else {
			status.Queue.Counts = counts
		}
	}
	return status
}

// CountByStatus returns the number of requests in each status.
func CountByStatus(ctx context.Context, q *queue.Store) (map[queue.Status]int, error) {
	counts := make(map[queue.Status]int)
	for _, st := range queue.AllStatuses() {
		requests, err := q.List(ctx, queue.Filter{Status: st})
		if err != nil {
			return nil, err
		}
		counts[st] = len(requests)
	}
	return counts, nil
}
