package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/catalog"
	"github.com/willibrandon/tenantmove/internal/region"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// ExportRequest selects the user to extract and the destination the
// archive is prepared for. An empty DestAlias creates a new tenant.
type ExportRequest struct {
	RequestID    int64
	SourceRegion string
	SourceAlias  string
	User         tenancy.UserQuery
	DestRegion   string
	DestAlias    string
}

// ExportResult describes a written archive.
type ExportResult struct {
	ArchivePath    string
	DestAlias      string
	NewTenant      bool
	TotalBytes     int64
	SourceTenantID int64
	UserID         string
	Tables         int
	Rows           int64
	Files          int
	FailedFiles    []string
}

// Creator extracts one user of a source tenant into an archive.
type Creator struct {
	stores region.Stores
	opts   Options
	log    *slog.Logger
	events *eventLogger
}

// NewCreator returns a Creator over stores. A nil log uses the process logger.
func NewCreator(stores region.Stores, opts Options, log *slog.Logger) *Creator {
	log = loggerOrDefault(log)
	return &Creator{stores: stores, opts: opts.withDefaults(), log: log, events: newEventLogger(log)}
}

// exportJob is the state established by the pre-flight checks.
type exportJob struct {
	req       ExportRequest
	tenant    *tenancy.Tenant
	user      *tenancy.User
	files     []tenancy.FileRef
	total     int64
	newTenant bool
	alias     string
}

// Create runs the pre-flight checks, then writes the user's tables, blobs
// and manifest into a new archive. Nothing is written when a pre-flight
// check fails, and the archive is removed on any later failure.
func (c *Creator) Create(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	start := time.Now()
	c.events.Log(Event{
		Event:  EventStarted,
		Phase:  "export",
		Region: req.SourceRegion,
		Alias:  req.SourceAlias,
		Details: map[string]any{
			"request_id":  req.RequestID,
			"dest_region": req.DestRegion,
			"dest_alias":  req.DestAlias,
		},
	})

	res, err := c.create(ctx, req)
	if err != nil {
		c.events.failed("export", err)
		return nil, err
	}

	c.events.Log(Event{
		Event:      EventArchiveWritten,
		Phase:      "export",
		Alias:      res.DestAlias,
		TenantID:   res.SourceTenantID,
		UserID:     res.UserID,
		Rows:       res.Rows,
		Bytes:      res.TotalBytes,
		Path:       res.ArchivePath,
		DurationMs: time.Since(start).Milliseconds(),
		Details:    map[string]any{"tables": res.Tables, "files": res.Files, "failed_files": len(res.FailedFiles)},
	})
	return res, nil
}

func (c *Creator) create(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	job, err := c.preflight(ctx, req)
	if err != nil {
		return nil, err
	}

	if job.newTenant {
		destDir, err := c.stores.Directory(ctx, req.DestRegion)
		if err != nil {
			return nil, fail("open destination directory", KindTransientStore, err)
		}
		placeholder, err := reserveAlias(ctx, aliasSeed(job.user), destDir, c.opts.Alias, c.opts.Now())
		if err != nil {
			return nil, fail("reserve alias", KindOf(err), err)
		}
		job.alias = placeholder.Alias
		c.log.Info("Reserved destination alias", "alias", placeholder.Alias, "tenant_id", placeholder.ID)
	}

	w, err := archive.Create(c.archivePath(req), c.opts.Compression)
	if err != nil {
		return nil, fail("create archive", KindTransientStore, err)
	}
	res, err := c.write(ctx, job, w)
	if err != nil {
		w.Abort()
		return nil, err
	}
	return res, nil
}

// preflight runs the checks that must pass before any data moves.
func (c *Creator) preflight(ctx context.Context, req ExportRequest) (*exportJob, error) {
	srcDir, err := c.stores.Directory(ctx, req.SourceRegion)
	if err != nil {
		return nil, fail("open source directory", KindTransientStore, err)
	}
	destDir, err := c.stores.Directory(ctx, req.DestRegion)
	if err != nil {
		return nil, fail("open destination directory", KindTransientStore, err)
	}

	tenant, err := srcDir.TenantByAlias(ctx, req.SourceAlias)
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil, fail("resolve source tenant", KindNotFound, fmt.Errorf("%s: %w", req.SourceAlias, ErrTenantNotFound))
	}
	if err != nil {
		return nil, fail("resolve source tenant", KindTransientStore, err)
	}

	if req.User.Empty() {
		return nil, fail("resolve user", KindNotFound, fmt.Errorf("no username or email given: %w", ErrUserNotFound))
	}
	user, err := srcDir.FindUser(ctx, tenant.ID, req.User, tenancy.UserActive)
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil, fail("resolve user", KindNotFound, fmt.Errorf("%s%s in %s: %w", req.User.UserName, req.User.Email, req.SourceAlias, ErrUserNotFound))
	}
	if err != nil {
		return nil, fail("resolve user", KindTransientStore, err)
	}

	job := &exportJob{req: req, tenant: tenant, user: user, newTenant: req.DestAlias == "", alias: req.DestAlias}

	var dest *tenancy.Tenant
	if !job.newTenant {
		taken, err := destDir.UserTaken(ctx, tenancy.UserQuery{UserName: user.UserName, Email: user.Email})
		if err != nil {
			return nil, fail("check destination users", KindTransientStore, err)
		}
		if taken {
			return nil, fail("check destination users", KindConflict, fmt.Errorf("%s: %w", user.UserName, ErrUsernameExists))
		}
		dest, err = destDir.TenantByAlias(ctx, req.DestAlias)
		if errors.Is(err, tenancy.ErrNotFound) {
			return nil, fail("resolve destination tenant", KindNotFound, fmt.Errorf("%s: %w", req.DestAlias, ErrTenantNotFound))
		}
		if err != nil {
			return nil, fail("resolve destination tenant", KindTransientStore, err)
		}
	}

	job.files, err = srcDir.UserFiles(ctx, tenant.ID, user.ID)
	if err != nil {
		return nil, fail("list user files", KindTransientStore, err)
	}
	job.total = tenancy.TotalSize(job.files)

	var quota *tenancy.Quota
	if job.newTenant {
		quota, err = destDir.Quota(ctx, c.opts.TrialQuotaID)
	} else {
		quota, err = destDir.TenantQuota(ctx, dest.ID)
	}
	if err != nil {
		return nil, fail("load destination quota", storeKind(err), err)
	}
	if !quota.FitsSize(job.total) {
		return nil, fail("check quota", KindQuotaExceeded,
			fmt.Errorf("%d bytes over limit %d: %w", job.total, quota.MaxTotalSize, ErrQuotaExceeded))
	}

	if !job.newTenant {
		active, err := destDir.CountActiveUsers(ctx, dest.ID)
		if err != nil {
			return nil, fail("count destination users", KindTransientStore, err)
		}
		if !quota.HasSeat(active) {
			return nil, fail("check seats", KindQuotaExceeded,
				fmt.Errorf("%d of %d seats used: %w", active, quota.ActiveUsers, ErrSeatQuotaExceeded))
		}
	}
	return job, nil
}

func (c *Creator) write(ctx context.Context, job *exportJob, w *archive.Writer) (*ExportResult, error) {
	db, err := c.stores.DB(ctx, job.req.SourceRegion)
	if err != nil {
		return nil, fail("open source database", KindTransientStore, err)
	}
	blobs, err := c.stores.Blobs(ctx, job.req.SourceRegion)
	if err != nil {
		return nil, fail("open source blobs", KindTransientStore, err)
	}

	res := &ExportResult{
		ArchivePath:    w.Path(),
		DestAlias:      job.alias,
		NewTenant:      job.newTenant,
		TotalBytes:     job.total,
		SourceTenantID: job.tenant.ID,
		UserID:         job.user.ID,
	}

	env := catalog.Env{TenantID: job.tenant.ID, UserID: job.user.ID, DestAlias: job.alias}
	cat := catalog.ForDestination(job.req.DestAlias)
	for _, mod := range cat.AllModules() {
		for _, td := range mod.Tables {
			if catalog.Blocked(td.Name) {
				continue
			}
			rows, ok, err := c.exportTable(ctx, db, w, mod, td, env)
			if err != nil {
				return nil, err
			}
			if ok {
				res.Tables++
				res.Rows += int64(rows)
			}
		}
	}

	files, err := discoverFiles(ctx, blobs, job.tenant.ID, job.files, c.opts.DiscoveryConcurrency)
	if err != nil {
		return nil, fail("discover files", KindTransientStore, err)
	}
	c.events.Log(Event{
		Level:    "debug",
		Event:    EventBlobDiscovered,
		TenantID: job.tenant.ID,
		UserID:   job.user.ID,
		Rows:     int64(len(files)),
	})

	copied := make([]archive.BackupFileInfo, 0, len(files))
	for _, f := range files {
		if err := c.copyBlob(ctx, blobs, w, f); err != nil {
			if ctx.Err() != nil {
				return nil, fail("copy blob", KindTransientStore, ctx.Err())
			}
			c.events.blobCopyFailed(f.Path, c.opts.CopyAttempts, err)
			res.FailedFiles = append(res.FailedFiles, f.Path)
			continue
		}
		copied = append(copied, f)
	}
	res.Files = len(copied)

	m := &archive.Manifest{
		ID:             uuid.NewString(),
		CreatedAt:      c.opts.Now(),
		SourceRegion:   job.req.SourceRegion,
		SourceAlias:    job.req.SourceAlias,
		SourceTenantID: job.tenant.ID,
		UserID:         job.user.ID,
		DestRegion:     job.req.DestRegion,
		DestAlias:      job.alias,
		NewTenant:      job.newTenant,
		TotalBytes:     job.total,
		Files:          copied,
	}
	if err := w.WriteManifest(m); err != nil {
		return nil, fail("write manifest", KindTransientStore, err)
	}
	if err := w.Close(); err != nil {
		return nil, fail("close archive", KindTransientStore, err)
	}
	return res, nil
}

// exportTable pages through one table until a short page and writes the
// scrubbed snapshot. It reports false when an optional table is missing.
func (c *Creator) exportTable(ctx context.Context, db store.DB, w *archive.Writer, mod catalog.Module, td catalog.TableDescriptor, env catalog.Env) (int, bool, error) {
	pageSize := c.opts.PageSize
	var snapshot *store.Table
	for offset := 0; ; offset += pageSize {
		page, err := db.Query(ctx, td.BuildSelectQuery(env, pageSize, offset))
		if err != nil {
			if td.Optional && errors.Is(err, store.ErrTableNotFound) {
				c.events.tableSkipped(td.Name, "table does not exist")
				return 0, false, nil
			}
			return 0, false, fail("export "+td.Name, KindTransientStore, err)
		}
		fetched := page.Len()
		page.Filter(func(r store.Row) bool { return td.PrepareRow(r, env) })
		if snapshot == nil {
			snapshot = page
		} else {
			snapshot.Extend(page)
		}
		if fetched < pageSize {
			break
		}
	}
	snapshot.Name = td.Name

	if err := w.WriteTable(mod.Key(td.Name), snapshot); err != nil {
		return 0, false, fail("write "+td.Name, KindTransientStore, err)
	}
	c.events.Log(Event{Level: "debug", Event: EventTableExported, Table: td.Name, Rows: int64(snapshot.Len())})
	return snapshot.Len(), true, nil
}

// copyBlob streams one blob into the archive, retrying failed reads.
func (c *Creator) copyBlob(ctx context.Context, blobs store.BlobStore, w *archive.Writer, f archive.BackupFileInfo) error {
	loc := store.Location{Tenant: f.Tenant, Module: f.Module, Domain: f.Domain}
	op := func() error {
		rc, err := blobs.Open(ctx, loc, f.Path)
		if err != nil {
			if errors.Is(err, store.ErrBlobNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer rc.Close()
		return w.WriteEntry(f.Key(), func(dst io.Writer) error {
			_, err := io.Copy(dst, rc)
			return err
		})
	}
	return backoff.Retry(op, retryPolicy(ctx, c.opts))
}

// retryPolicy allows CopyAttempts tries spaced CopyDelay apart.
func retryPolicy(ctx context.Context, opts Options) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.CopyDelay), uint64(opts.CopyAttempts-1)),
		ctx,
	)
}

func (c *Creator) archivePath(req ExportRequest) string {
	dir := c.opts.ArchiveDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("%s-%s.tar", sanitizeAlias(req.SourceAlias), uuid.NewString()[:8])
	return filepath.Join(dir, name)
}

// aliasSeed is the lower-cased user name, or the local part of the email
// when the user has no name.
func aliasSeed(u *tenancy.User) string {
	if u.UserName != "" {
		return strings.ToLower(u.UserName)
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return strings.ToLower(local)
}
