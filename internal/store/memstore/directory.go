package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Directory implements tenancy.Directory over a DB.
type Directory struct {
	db *DB
}

// NewDirectory returns a Directory reading and writing db.
func NewDirectory(db *DB) *Directory {
	return &Directory{db: db}
}

var _ tenancy.Directory = (*Directory)(nil)

func (d *Directory) one(ctx context.Context, sel store.Select, what string) (store.Row, error) {
	t, err := d.db.Query(ctx, sel)
	if err != nil {
		return store.Row{}, err
	}
	if t.Len() == 0 {
		return store.Row{}, fmt.Errorf("%s: %w", what, tenancy.ErrNotFound)
	}
	return t.Row(0), nil
}

func tenantFromRow(r store.Row) *tenancy.Tenant {
	t := &tenancy.Tenant{
		ID:      asInt(r.Get("id")),
		Alias:   asString(r.Get("alias")),
		Name:    asString(r.Get("name")),
		Status:  tenancy.TenantStatus(asInt(r.Get("status"))),
		OwnerID: asString(r.Get("owner_id")),
	}
	t.Industry = int(asInt(r.Get("industry")))
	t.LastModified, _ = r.Get("last_modified").(time.Time)
	t.StatusChanged, _ = r.Get("statuschanged").(time.Time)
	return t
}

func (d *Directory) TenantByAlias(ctx context.Context, alias string) (*tenancy.Tenant, error) {
	r, err := d.one(ctx, store.Select{Table: "tenants_tenants", Where: []store.Cond{store.Eq("alias", alias)}}, "tenant "+alias)
	if err != nil {
		return nil, err
	}
	return tenantFromRow(r), nil
}

func (d *Directory) TenantByID(ctx context.Context, id int64) (*tenancy.Tenant, error) {
	r, err := d.one(ctx, store.Select{Table: "tenants_tenants", Where: []store.Cond{store.Eq("id", id)}}, fmt.Sprintf("tenant %d", id))
	if err != nil {
		return nil, err
	}
	return tenantFromRow(r), nil
}

func userWhere(q tenancy.UserQuery) []store.Cond {
	where := []store.Cond{store.Eq("removed", false)}
	if q.UserName != "" {
		where = append(where, store.Eq("username", q.UserName))
	}
	if q.Email != "" {
		where = append(where, store.Eq("email", q.Email))
	}
	return where
}

func (d *Directory) FindUser(ctx context.Context, tenantID int64, q tenancy.UserQuery, status tenancy.UserStatus) (*tenancy.User, error) {
	if q.Empty() {
		return nil, fmt.Errorf("user query is empty")
	}
	where := append(userWhere(q), store.Eq("tenant", tenantID), store.Eq("status", int64(status)))
	r, err := d.one(ctx, store.Select{Table: "core_user", Where: where}, "user")
	if err != nil {
		return nil, err
	}
	return &tenancy.User{
		ID:       asString(r.Get("id")),
		TenantID: asInt(r.Get("tenant")),
		UserName: asString(r.Get("username")),
		Email:    asString(r.Get("email")),
		Status:   tenancy.UserStatus(asInt(r.Get("status"))),
	}, nil
}

func (d *Directory) UserExists(ctx context.Context, tenantID int64, userID string) (bool, error) {
	t, err := d.db.Query(ctx, store.Select{Table: "core_user", Where: []store.Cond{
		store.Eq("tenant", tenantID), store.Eq("id", userID), store.Eq("removed", false),
	}})
	if err != nil {
		return false, err
	}
	return t.Len() > 0, nil
}

func (d *Directory) UserTaken(ctx context.Context, q tenancy.UserQuery) (bool, error) {
	for _, single := range []tenancy.UserQuery{{UserName: q.UserName}, {Email: q.Email}} {
		if single.Empty() {
			continue
		}
		t, err := d.db.Query(ctx, store.Select{Table: "core_user", Where: userWhere(single)})
		if err != nil {
			return false, err
		}
		if t.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) UserFiles(ctx context.Context, tenantID int64, userID string) ([]tenancy.FileRef, error) {
	t, err := d.db.Query(ctx, store.Select{
		Table:   "files_file",
		Where:   []store.Cond{store.Eq("tenant_id", tenantID), store.Eq("create_by", userID)},
		OrderBy: []string{"id", "version"},
	})
	if err != nil {
		return nil, err
	}
	files := make([]tenancy.FileRef, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		files = append(files, tenancy.FileRef{
			ID:            asInt(r.Get("id")),
			Version:       int(asInt(r.Get("version"))),
			ContentLength: asInt(r.Get("content_length")),
		})
	}
	return files, nil
}

func (d *Directory) TenantQuota(ctx context.Context, tenantID int64) (*tenancy.Quota, error) {
	t, err := d.db.Query(ctx, store.Select{
		Table:   "tenants_tariff",
		Where:   []store.Cond{store.Eq("tenant", tenantID)},
		OrderBy: []string{"id"},
	})
	if err != nil {
		return nil, err
	}
	quotaID := tenancy.TrialQuotaID
	if t.Len() > 0 {
		quotaID = asInt(t.Row(t.Len() - 1).Get("tariff"))
	}
	return d.Quota(ctx, quotaID)
}

func (d *Directory) Quota(ctx context.Context, id int64) (*tenancy.Quota, error) {
	r, err := d.one(ctx, store.Select{Table: "tenants_quota", Where: []store.Cond{store.Eq("tenant", id)}}, fmt.Sprintf("quota %d", id))
	if err != nil {
		return nil, err
	}
	return &tenancy.Quota{
		ID:           asInt(r.Get("tenant")),
		Name:         asString(r.Get("name")),
		MaxTotalSize: asInt(r.Get("max_total_size")),
		ActiveUsers:  int(asInt(r.Get("active_users"))),
	}, nil
}

func (d *Directory) CountActiveUsers(ctx context.Context, tenantID int64) (int, error) {
	t, err := d.db.Query(ctx, store.Select{Table: "core_user", Where: []store.Cond{
		store.Eq("tenant", tenantID), store.Eq("status", int64(tenancy.UserActive)), store.Eq("removed", false),
	}})
	if err != nil {
		return 0, err
	}
	return t.Len(), nil
}

func (d *Directory) AliasExists(ctx context.Context, alias string) (bool, error) {
	t, err := d.db.Query(ctx, store.Select{Table: "tenants_tenants", Where: []store.Cond{store.Eq("alias", alias)}})
	if err != nil {
		return false, err
	}
	return t.Len() > 0, nil
}

func (d *Directory) ReserveTenant(ctx context.Context, alias string, now time.Time) (*tenancy.Tenant, error) {
	exists, err := d.AliasExists(ctx, alias)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("reserve %s: %w", alias, tenancy.ErrAliasReserved)
	}
	id, err := d.db.NextID(ctx, "tenants_tenants", "id")
	if err != nil {
		return nil, err
	}
	d.db.Put("tenants_tenants", map[string]any{
		"id":               id,
		"alias":            alias,
		"name":             "",
		"status":           int64(tenancy.TenantSuspended),
		"owner_id":         "",
		"industry":         int64(0),
		"creationdatetime": now,
		"last_modified":    now,
		"statuschanged":    now,
	})
	return d.TenantByID(ctx, id)
}

func (d *Directory) SetQuotaRow(ctx context.Context, row tenancy.QuotaRow) error {
	where := []store.Cond{store.Eq("tenant", row.Tenant), store.Eq("path", row.Path), store.Eq("user_id", row.UserID)}
	if err := d.db.remove("tenants_quotarow", where); err != nil {
		return err
	}
	d.db.Put("tenants_quotarow", map[string]any{
		"tenant":        row.Tenant,
		"path":          row.Path,
		"counter":       row.Counter,
		"tag":           row.Tag,
		"user_id":       row.UserID,
		"last_modified": row.LastModified,
	})
	return nil
}

func (d *Directory) ActivateTenant(ctx context.Context, tenantID int64, ownerID string, now time.Time) error {
	n, err := d.db.update("tenants_tenants", []store.Cond{store.Eq("id", tenantID)}, map[string]any{
		"status":        int64(tenancy.TenantActive),
		"owner_id":      ownerID,
		"last_modified": now,
		"statuschanged": now,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tenant %d: %w", tenantID, tenancy.ErrNotFound)
	}
	return nil
}

func (d *Directory) ReplaceTariff(ctx context.Context, t tenancy.Tariff) error {
	if err := d.db.remove("tenants_tariff", []store.Cond{store.Eq("tenant", t.Tenant)}); err != nil {
		return err
	}
	id, err := d.db.NextID(ctx, "tenants_tariff", "id")
	if err != nil {
		return err
	}
	d.db.Put("tenants_tariff", map[string]any{
		"id":      id,
		"tenant":  t.Tenant,
		"tariff":  t.QuotaID,
		"stamp":   t.Stamp,
		"comment": t.Comment,
	})
	return nil
}

func (d *Directory) EnsureGroupMember(ctx context.Context, tenantID int64, userID, groupID string) (bool, error) {
	t, err := d.db.Query(ctx, store.Select{Table: "core_usergroup", Where: []store.Cond{
		store.Eq("tenant", tenantID), store.Eq("userid", userID), store.Eq("groupid", groupID), store.Eq("removed", false),
	}})
	if err != nil {
		return false, err
	}
	if t.Len() > 0 {
		return false, nil
	}
	d.db.Put("core_usergroup", map[string]any{
		"tenant":   tenantID,
		"userid":   userID,
		"groupid":  groupID,
		"ref_type": int64(0),
		"removed":  false,
	})
	return true, nil
}

func asInt(v any) int64 {
	n, _ := v.(int64)
	return n
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
