package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Region bundles the stores of one region.
type Region struct {
	DB    *DB
	Dir   *Directory
	Blobs *Blobs
	Quota *QuotaCounter
}

// NewRegion returns an empty region with a quota counter attached to its
// blob store.
func NewRegion() *Region {
	db := NewDB()
	r := &Region{DB: db, Dir: NewDirectory(db), Blobs: NewBlobs(), Quota: &QuotaCounter{}}
	r.Blobs.AttachQuota(r.Quota)
	return r
}

// AddTenant inserts an active tenant.
func (r *Region) AddTenant(id int64, alias, ownerID string) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.DB.Put("tenants_tenants", map[string]any{
		"id": id, "alias": alias, "name": alias, "status": int64(tenancy.TenantActive),
		"owner_id": ownerID, "industry": int64(3), "creationdatetime": now,
		"last_modified": now, "statuschanged": now,
	})
}

// AddUser inserts an active user.
func (r *Region) AddUser(tenant int64, id, username, email string) {
	r.DB.Put("core_user", map[string]any{
		"tenant": tenant, "id": id, "username": username, "email": email,
		"status": int64(tenancy.UserActive),
	})
}

// AddQuota inserts a quota definition.
func (r *Region) AddQuota(id, maxTotalSize int64, activeUsers int) {
	r.DB.Put("tenants_quota", map[string]any{
		"tenant": id, "name": fmt.Sprintf("quota %d", id),
		"max_total_size": maxTotalSize, "active_users": int64(activeUsers),
	})
}

// AddTariff attaches quotaID to tenant.
func (r *Region) AddTariff(id, tenant, quotaID int64) {
	r.DB.Put("tenants_tariff", map[string]any{
		"id": id, "tenant": tenant, "tariff": quotaID, "stamp": tenancy.MaxStamp,
	})
}

// AddFolder inserts a folder owned by userID.
func (r *Region) AddFolder(tenant, id, parentID int64, userID, title string) {
	r.DB.Put("files_folder", map[string]any{
		"id": id, "parent_id": parentID, "title": title, "folder_type": int64(5),
		"create_by": userID, "create_on": time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "tenant_id": tenant,
	})
}

// AddFile inserts one file version and stores its content blob.
func (r *Region) AddFile(tenant, id, folderID int64, userID, title string, content []byte, blobPath string) {
	r.DB.Put("files_file", map[string]any{
		"id": id, "version": int64(1), "folder_id": folderID, "title": title,
		"content_length": int64(len(content)), "thumb": int64(2), "create_by": userID,
		"create_on": time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), "tenant_id": tenant,
	})
	if blobPath != "" {
		r.Blobs.Put(store.Location{Tenant: tenant, Module: "files"}, blobPath, content)
	}
}

// Regions maps region ids to in-memory regions.
type Regions map[string]*Region

func (rs Regions) region(id string) (*Region, error) {
	r, ok := rs[id]
	if !ok {
		return nil, fmt.Errorf("unknown region %q", id)
	}
	return r, nil
}

func (rs Regions) DB(_ context.Context, region string) (store.DB, error) {
	r, err := rs.region(region)
	if err != nil {
		return nil, err
	}
	return r.DB, nil
}

func (rs Regions) Directory(_ context.Context, region string) (tenancy.Directory, error) {
	r, err := rs.region(region)
	if err != nil {
		return nil, err
	}
	return r.Dir, nil
}

func (rs Regions) Blobs(_ context.Context, region string) (store.BlobStore, error) {
	r, err := rs.region(region)
	if err != nil {
		return nil, err
	}
	return r.Blobs, nil
}
