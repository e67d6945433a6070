// Package worker drains the migration request queue, one request at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/metrics"
	"github.com/willibrandon/tenantmove/internal/migrate"
	"github.com/willibrandon/tenantmove/internal/queue"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Queue is the part of the request queue the worker drives.
type Queue interface {
	NextPending(ctx context.Context) (*queue.Request, error)
	MarkInWork(ctx context.Context, id int64, now time.Time) error
	MarkSuccess(ctx context.Context, id int64, alias string, now time.Time) error
	MarkError(ctx context.Context, id int64, now time.Time) error
}

// Exporter extracts a user into an archive.
type Exporter interface {
	Create(ctx context.Context, req migrate.ExportRequest) (*migrate.ExportResult, error)
}

// Restorer replays an archive into the destination region.
type Restorer interface {
	Run(ctx context.Context, req migrate.RestoreRequest) (*migrate.RestoreResult, error)
}

// Options configures a Worker.
type Options struct {
	// PollInterval is the sleep between polls of an empty queue.
	PollInterval time.Duration
	// SourceRegion is used for requests that name no source region.
	SourceRegion string
	// KeepArchives leaves archives on disk after a request finishes.
	KeepArchives bool
	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Worker processes queued migration requests sequentially.
type Worker struct {
	queue    Queue
	exporter Exporter
	restorer Restorer
	opts     Options
	log      *slog.Logger
	stats    *metrics.Requests
	// current is the id of the claimed request, zero when idle.
	current atomic.Int64
}

// New returns a worker. A nil log uses the process logger.
func New(q Queue, exporter Exporter, restorer Restorer, opts Options, log *slog.Logger) *Worker {
	if log == nil {
		log = logger.Logger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{
		queue:    q,
		exporter: exporter,
		restorer: restorer,
		opts:     opts,
		log:      log,
		stats:    metrics.NewRequests(metrics.DefaultCapacity),
	}
}

// Stats returns the outcomes of recently processed requests.
func (w *Worker) Stats() *metrics.Requests {
	return w.stats
}

// Run processes requests until ctx is cancelled. It sleeps PollInterval
// whenever the queue is empty or cannot be read.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "poll_interval", w.opts.PollInterval.String())
	defer w.log.Info("worker stopped")

	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.log.Error("queue poll failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		if !sleep(ctx, w.opts.PollInterval) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ProcessNext migrates the oldest pending request. It reports false when
// the queue is empty. A failed migration marks the request as errored and
// is not returned as an error; only queue failures are.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	req, err := w.queue.NextPending(ctx)
	if errors.Is(err, queue.ErrNoPending) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read pending request: %w", err)
	}

	started := w.opts.Now()
	if err := w.queue.MarkInWork(ctx, req.ID, started); err != nil {
		return false, fmt.Errorf("claim request %d: %w", req.ID, err)
	}

	w.current.Store(req.ID)
	defer w.current.Store(0)

	log := w.log.With("request_id", req.ID, "source_alias", req.SourceAlias, "dest_region", req.DestRegion)
	log.Info("request claimed")

	alias, migrateErr := w.migrate(ctx, req)

	// The final status is written even when shutdown interrupted the migration.
	done := context.WithoutCancel(ctx)
	finished := w.opts.Now()
	w.stats.Record(metrics.Sample{Finished: finished, Duration: finished.Sub(started), Failed: migrateErr != nil})

	if migrateErr != nil {
		log.Error("request failed", "error", migrateErr, "kind", migrate.KindOf(migrateErr).String())
		if err := w.queue.MarkError(done, req.ID, finished); err != nil {
			return true, fmt.Errorf("mark request %d failed: %w", req.ID, err)
		}
		return true, nil
	}

	if err := w.queue.MarkSuccess(done, req.ID, alias, finished); err != nil {
		return true, fmt.Errorf("mark request %d done: %w", req.ID, err)
	}
	log.Info("request completed", "alias", alias)
	return true, nil
}

// Current returns the id of the request in progress, or zero.
func (w *Worker) Current() int64 {
	return w.current.Load()
}

// migrate exports then restores one request and returns the destination alias.
func (w *Worker) migrate(ctx context.Context, req *queue.Request) (string, error) {
	sourceRegion := req.SourceRegion
	if sourceRegion == "" {
		sourceRegion = w.opts.SourceRegion
	}

	exported, err := w.exporter.Create(ctx, migrate.ExportRequest{
		RequestID:    req.ID,
		SourceRegion: sourceRegion,
		SourceAlias:  req.SourceAlias,
		User:         tenancy.UserQuery{UserName: req.UserName, Email: req.Email},
		DestRegion:   req.DestRegion,
		DestAlias:    req.DestAlias,
	})
	if err != nil {
		return "", err
	}
	if !w.opts.KeepArchives {
		defer w.removeArchive(exported.ArchivePath)
	}

	restored, err := w.restorer.Run(ctx, migrate.RestoreRequest{
		RequestID:   req.ID,
		ArchivePath: exported.ArchivePath,
		DestRegion:  req.DestRegion,
		SourceAlias: req.SourceAlias,
		DestAlias:   req.DestAlias,
		TotalBytes:  exported.TotalBytes,
	})
	if err != nil {
		return "", err
	}
	return restored.Alias, nil
}

func (w *Worker) removeArchive(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.Warn("failed to remove archive", "path", path, "error", err)
	}
}
