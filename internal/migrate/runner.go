package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/catalog"
	"github.com/willibrandon/tenantmove/internal/mapper"
	"github.com/willibrandon/tenantmove/internal/region"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// RestoreRequest replays an archive into a destination region. An empty
// DestAlias restores into the tenant reserved during extraction.
type RestoreRequest struct {
	RequestID   int64
	ArchivePath string
	DestRegion  string
	SourceAlias string
	DestAlias   string
	// TotalBytes is the extracted content size. Zero uses the manifest value.
	TotalBytes int64
}

// RestoreResult identifies the destination tenant after a restore.
type RestoreResult struct {
	Alias    string
	TenantID int64
	Tables   int
	Rows     int64
	Files    int
}

// Runner restores archives written by a Creator.
type Runner struct {
	stores region.Stores
	opts   Options
	log    *slog.Logger
	events *eventLogger
}

// NewRunner returns a Runner over stores. A nil log uses the process logger.
func NewRunner(stores region.Stores, opts Options, log *slog.Logger) *Runner {
	log = loggerOrDefault(log)
	return &Runner{stores: stores, opts: opts.withDefaults(), log: log, events: newEventLogger(log)}
}

// destination holds the opened stores of the destination region.
type destination struct {
	db    store.DB
	dir   tenancy.Directory
	blobs store.BlobStore
}

// Run replays the archive's tables and blobs and reconciles the
// destination tenant. A failure leaves already replayed data in place.
func (r *Runner) Run(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	start := time.Now()
	r.events.Log(Event{
		Event:   EventStarted,
		Phase:   "restore",
		Region:  req.DestRegion,
		Alias:   req.DestAlias,
		Path:    req.ArchivePath,
		Details: map[string]any{"request_id": req.RequestID, "source_alias": req.SourceAlias},
	})

	res, err := r.run(ctx, req)
	if err != nil {
		r.events.failed("restore", err)
		return nil, err
	}

	r.events.Log(Event{
		Event:      EventCompleted,
		Phase:      "restore",
		Region:     req.DestRegion,
		Alias:      res.Alias,
		TenantID:   res.TenantID,
		Rows:       res.Rows,
		DurationMs: time.Since(start).Milliseconds(),
		Details:    map[string]any{"tables": res.Tables, "files": res.Files},
	})
	return res, nil
}

func (r *Runner) run(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	reader, err := archive.Open(req.ArchivePath)
	if err != nil {
		return nil, fail("open archive", KindTransientStore, err)
	}
	defer reader.Close()

	manifest, err := reader.Manifest()
	if err != nil {
		return nil, fail("read manifest", KindInvariant, err)
	}

	dest, err := r.open(ctx, req.DestRegion)
	if err != nil {
		return nil, err
	}

	m := mapper.New()
	var tenant *tenancy.Tenant
	if req.DestAlias != "" {
		tenant, err = r.seedTenant(ctx, dest.dir, m, manifest.SourceTenantID, req.DestAlias)
		if err != nil {
			return nil, err
		}
	}

	res := &RestoreResult{}
	cat := catalog.ForDestination(req.DestAlias)
	for _, mod := range cat.AllModules() {
		task := newRestoreTask(dest.db, mod, m, r.opts.PageSize, r.events)
		tables, err := task.Run(ctx, reader)
		for _, t := range tables {
			res.Tables++
			res.Rows += t.Rows
		}
		if err != nil {
			return nil, err
		}
		if tenant == nil && mod.Name == catalog.ModuleTenants {
			tenant, err = r.seedTenant(ctx, dest.dir, m, manifest.SourceTenantID, manifest.DestAlias)
			if err != nil {
				return nil, err
			}
		}
	}
	if tenant == nil {
		return nil, failf("restore", KindInvariant, "catalog restored no tenant for alias %q", manifest.DestAlias)
	}

	res.Files, err = r.restoreBlobs(ctx, reader, dest.blobs, cat, m, manifest.Files, tenant.ID)
	if err != nil {
		return nil, err
	}
	r.events.Log(Event{Event: EventBlobsRestored, TenantID: tenant.ID, Rows: int64(res.Files)})

	total := req.TotalBytes
	if total == 0 {
		total = manifest.TotalBytes
	}
	if err := r.reconcile(ctx, dest.dir, tenant.ID, manifest.UserID, total); err != nil {
		return nil, err
	}

	res.Alias = tenant.Alias
	res.TenantID = tenant.ID
	return res, nil
}

func (r *Runner) open(ctx context.Context, id string) (*destination, error) {
	db, err := r.stores.DB(ctx, id)
	if err != nil {
		return nil, fail("open destination database", KindTransientStore, err)
	}
	dir, err := r.stores.Directory(ctx, id)
	if err != nil {
		return nil, fail("open destination directory", KindTransientStore, err)
	}
	blobs, err := r.stores.Blobs(ctx, id)
	if err != nil {
		return nil, fail("open destination blobs", KindTransientStore, err)
	}
	return &destination{db: db, dir: dir, blobs: blobs}, nil
}

// seedTenant looks up the destination tenant and commits the single
// source-to-destination tenant id mapping.
func (r *Runner) seedTenant(ctx context.Context, dir tenancy.Directory, m *mapper.Mapper, sourceID int64, alias string) (*tenancy.Tenant, error) {
	tenant, err := dir.TenantByAlias(ctx, alias)
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil, fail("resolve destination tenant", KindNotFound, fmt.Errorf("%s: %w", alias, ErrTenantNotFound))
	}
	if err != nil {
		return nil, fail("resolve destination tenant", KindTransientStore, err)
	}
	if err := m.Add(catalog.TableTenants, "id", sourceID, tenant.ID); err != nil {
		return nil, fail("seed tenant mapping", KindInvariant, err)
	}
	m.Commit(catalog.TableTenants, "id")
	r.log.Debug("Seeded tenant mapping", "source_tenant_id", sourceID, "tenant_id", tenant.ID, "alias", alias)
	return tenant, nil
}

// restoreBlobs copies every manifest file into the destination tenant.
// The destination quota controller is detached for the duration, since
// the content size was checked during extraction.
func (r *Runner) restoreBlobs(ctx context.Context, reader *archive.Reader, blobs store.BlobStore, cat catalog.Catalog, m *mapper.Mapper, files []archive.BackupFileInfo, tenantID int64) (int, error) {
	qc := blobs.DetachQuota()
	defer blobs.AttachQuota(qc)

	for i, f := range files {
		mod, ok := cat.Module(f.Module)
		if !ok {
			return i, failf("restore blob", KindInvariant, "file %s belongs to unknown module %q", f.Path, f.Module)
		}
		p, err := mod.Path(f.Path, m)
		if err != nil {
			return i, fail("adjust path "+f.Path, KindInvariant, err)
		}
		loc := store.Location{Tenant: tenantID, Module: f.Module, Domain: f.Domain}
		op := func() error {
			rc, err := reader.OpenEntry(f.Key())
			if err != nil {
				return backoff.Permanent(err)
			}
			defer rc.Close()
			return blobs.Save(ctx, loc, p, rc, -1)
		}
		if err := backoff.Retry(op, retryPolicy(ctx, r.opts)); err != nil {
			return i, fail("restore blob "+p, KindTransientStore, err)
		}
	}
	return len(files), nil
}
