package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
)

// QuotaRows charges stored bytes to the tenant-wide tenants_quotarow
// counter of each module and rejects charges past the tenant's quota.
type QuotaRows struct {
	db  *DB
	dir *Directory
}

// NewQuotaRows returns a quota controller over db.
func NewQuotaRows(db *DB) *QuotaRows {
	return &QuotaRows{db: db, dir: NewDirectory(db)}
}

var _ store.QuotaController = (*QuotaRows)(nil)

// Charge adds size bytes to the module counter of loc's tenant.
func (q *QuotaRows) Charge(ctx context.Context, loc store.Location, size int64) error {
	quota, err := q.dir.TenantQuota(ctx, loc.Tenant)
	if err != nil {
		return fmt.Errorf("quota of tenant %d: %w", loc.Tenant, err)
	}

	tx, err := q.db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('tenants_quotarow'), $1::int)", int32(loc.Tenant)); err != nil {
		return fmt.Errorf("lock quota of %d: %w", loc.Tenant, err)
	}

	var used int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(counter), 0) FROM tenants_quotarow WHERE tenant = $1 AND user_id = ''`,
		loc.Tenant).Scan(&used); err != nil {
		return err
	}
	if !quota.FitsSize(used + size) {
		return fmt.Errorf("tenant %d: %d of %d bytes used: %w", loc.Tenant, used, quota.MaxTotalSize, store.ErrQuotaExceeded)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants_quotarow (tenant, path, counter, tag, user_id, last_modified)
		 VALUES ($1, $2, $3, $4, '', $5)
		 ON CONFLICT (tenant, path, user_id)
		 DO UPDATE SET counter = tenants_quotarow.counter + EXCLUDED.counter, last_modified = EXCLUDED.last_modified`,
		loc.Tenant, "/"+loc.Module+"/", size, loc.Module, time.Now().UTC()); err != nil {
		return fmt.Errorf("charge %d bytes to %d: %w", size, loc.Tenant, err)
	}
	return tx.Commit(ctx)
}
