package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Directory implements tenancy.Directory over a region database.
type Directory struct {
	db *DB
}

// NewDirectory returns a Directory backed by db.
func NewDirectory(db *DB) *Directory {
	return &Directory{db: db}
}

var _ tenancy.Directory = (*Directory)(nil)

const tenantColumns = `id, alias, name, status, owner_id, industry, last_modified, statuschanged`

func scanTenant(row pgx.Row) (*tenancy.Tenant, error) {
	var (
		t        tenancy.Tenant
		status   int32
		industry int32
		owner    *string
	)
	if err := row.Scan(&t.ID, &t.Alias, &t.Name, &status, &owner, &industry, &t.LastModified, &t.StatusChanged); err != nil {
		return nil, err
	}
	t.Status = tenancy.TenantStatus(status)
	t.Industry = int(industry)
	if owner != nil {
		t.OwnerID = *owner
	}
	return &t, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, tenancy.ErrNotFound)
	}
	return err
}

func (d *Directory) TenantByAlias(ctx context.Context, alias string) (*tenancy.Tenant, error) {
	t, err := scanTenant(d.db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants_tenants WHERE alias = $1`, alias))
	if err != nil {
		return nil, notFound("tenant "+alias, err)
	}
	return t, nil
}

func (d *Directory) TenantByID(ctx context.Context, id int64) (*tenancy.Tenant, error) {
	t, err := scanTenant(d.db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants_tenants WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(fmt.Sprintf("tenant %d", id), err)
	}
	return t, nil
}

// userFilter renders the username/email conditions of q starting at
// placeholder $n.
func userFilter(q tenancy.UserQuery, n int) (string, []any) {
	var conds []string
	var args []any
	if q.UserName != "" {
		conds = append(conds, fmt.Sprintf("username = $%d", n))
		args = append(args, q.UserName)
		n++
	}
	if q.Email != "" {
		conds = append(conds, fmt.Sprintf("email = $%d", n))
		args = append(args, q.Email)
	}
	return strings.Join(conds, " AND "), args
}

func (d *Directory) FindUser(ctx context.Context, tenantID int64, q tenancy.UserQuery, status tenancy.UserStatus) (*tenancy.User, error) {
	if q.Empty() {
		return nil, fmt.Errorf("user query is empty")
	}
	filter, args := userFilter(q, 3)
	var (
		u  tenancy.User
		st int32
	)
	err := d.db.pool.QueryRow(ctx,
		`SELECT id, tenant, username, COALESCE(email, ''), status FROM core_user
		 WHERE tenant = $1 AND status = $2 AND NOT removed AND `+filter+`
		 LIMIT 1`,
		append([]any{tenantID, int(status)}, args...)...,
	).Scan(&u.ID, &u.TenantID, &u.UserName, &u.Email, &st)
	if err != nil {
		return nil, notFound("user", err)
	}
	u.Status = tenancy.UserStatus(st)
	return &u, nil
}

func (d *Directory) UserExists(ctx context.Context, tenantID int64, userID string) (bool, error) {
	var exists bool
	err := d.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM core_user WHERE tenant = $1 AND id = $2 AND NOT removed)`,
		tenantID, userID).Scan(&exists)
	return exists, err
}

// UserTaken reports whether the username or the email is in use by any
// tenant of the region.
func (d *Directory) UserTaken(ctx context.Context, q tenancy.UserQuery) (bool, error) {
	for _, single := range []tenancy.UserQuery{{UserName: q.UserName}, {Email: q.Email}} {
		if single.Empty() {
			continue
		}
		filter, args := userFilter(single, 1)
		var exists bool
		err := d.db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM core_user WHERE NOT removed AND `+filter+`)`,
			args...).Scan(&exists)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) UserFiles(ctx context.Context, tenantID int64, userID string) ([]tenancy.FileRef, error) {
	rows, err := d.db.pool.Query(ctx,
		`SELECT id, version, content_length FROM files_file
		 WHERE tenant_id = $1 AND create_by = $2 ORDER BY id, version`,
		tenantID, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tenancy.FileRef, error) {
		var (
			f       tenancy.FileRef
			version int32
		)
		err := row.Scan(&f.ID, &version, &f.ContentLength)
		f.Version = int(version)
		return f, err
	})
}

// TenantQuota returns the quota of the newest tariff of the tenant, or the
// trial quota when the tenant has none.
func (d *Directory) TenantQuota(ctx context.Context, tenantID int64) (*tenancy.Quota, error) {
	quotaID := tenancy.TrialQuotaID
	err := d.db.pool.QueryRow(ctx,
		`SELECT tariff FROM tenants_tariff WHERE tenant = $1 ORDER BY id DESC LIMIT 1`,
		tenantID).Scan(&quotaID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return d.Quota(ctx, quotaID)
}

func (d *Directory) Quota(ctx context.Context, id int64) (*tenancy.Quota, error) {
	var (
		q     tenancy.Quota
		users int32
	)
	err := d.db.pool.QueryRow(ctx,
		`SELECT tenant, name, max_total_size, active_users FROM tenants_quota WHERE tenant = $1`,
		id).Scan(&q.ID, &q.Name, &q.MaxTotalSize, &users)
	if err != nil {
		return nil, notFound(fmt.Sprintf("quota %d", id), err)
	}
	q.ActiveUsers = int(users)
	return &q, nil
}

func (d *Directory) CountActiveUsers(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := d.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM core_user WHERE tenant = $1 AND status = $2 AND NOT removed`,
		tenantID, int(tenancy.UserActive)).Scan(&n)
	return n, err
}

func (d *Directory) AliasExists(ctx context.Context, alias string) (bool, error) {
	var exists bool
	err := d.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants_tenants WHERE alias = $1)`, alias).Scan(&exists)
	return exists, err
}

// ReserveTenant inserts a suspended placeholder. The unique alias index
// decides races between concurrent reservations.
func (d *Directory) ReserveTenant(ctx context.Context, alias string, now time.Time) (*tenancy.Tenant, error) {
	id, err := d.db.NextID(ctx, "tenants_tenants", "id")
	if err != nil {
		return nil, err
	}
	_, err = d.db.pool.Exec(ctx,
		`INSERT INTO tenants_tenants (id, alias, name, status, owner_id, industry, creationdatetime, last_modified, statuschanged)
		 VALUES ($1, $2, '', $3, '', 0, $4, $4, $4)`,
		id, alias, int(tenancy.TenantSuspended), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("reserve %s: %w", alias, tenancy.ErrAliasReserved)
		}
		return nil, fmt.Errorf("reserve %s: %w", alias, err)
	}
	return d.TenantByID(ctx, id)
}

func (d *Directory) SetQuotaRow(ctx context.Context, row tenancy.QuotaRow) error {
	_, err := d.db.pool.Exec(ctx,
		`INSERT INTO tenants_quotarow (tenant, path, counter, tag, user_id, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant, path, user_id)
		 DO UPDATE SET counter = EXCLUDED.counter, tag = EXCLUDED.tag, last_modified = EXCLUDED.last_modified`,
		row.Tenant, row.Path, row.Counter, row.Tag, row.UserID, row.LastModified)
	return err
}

func (d *Directory) ActivateTenant(ctx context.Context, tenantID int64, ownerID string, now time.Time) error {
	tag, err := d.db.pool.Exec(ctx,
		`UPDATE tenants_tenants
		 SET status = $2, owner_id = $3, last_modified = $4, statuschanged = $4
		 WHERE id = $1`,
		tenantID, int(tenancy.TenantActive), ownerID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %d: %w", tenantID, tenancy.ErrNotFound)
	}
	return nil
}

func (d *Directory) ReplaceTariff(ctx context.Context, t tenancy.Tariff) error {
	tx, err := d.db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tenants_tariff WHERE tenant = $1`, t.Tenant); err != nil {
		return fmt.Errorf("clear tariffs of %d: %w", t.Tenant, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants_tariff (id, tenant, tariff, stamp, comment)
		 VALUES ((SELECT COALESCE(MAX(id), 0) + 1 FROM tenants_tariff), $1, $2, $3, $4)`,
		t.Tenant, t.QuotaID, t.Stamp, t.Comment); err != nil {
		return fmt.Errorf("insert tariff of %d: %w", t.Tenant, err)
	}
	return tx.Commit(ctx)
}

func (d *Directory) EnsureGroupMember(ctx context.Context, tenantID int64, userID, groupID string) (bool, error) {
	tag, err := d.db.pool.Exec(ctx,
		`INSERT INTO core_usergroup (tenant, userid, groupid, ref_type, removed)
		 SELECT $1::bigint, $2::text, $3::text, 0, false
		 WHERE NOT EXISTS (
		   SELECT 1 FROM core_usergroup
		   WHERE tenant = $1 AND userid = $2 AND groupid = $3 AND NOT removed)
		 ON CONFLICT DO NOTHING`,
		tenantID, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
