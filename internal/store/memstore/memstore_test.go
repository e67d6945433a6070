package memstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

func TestQueryFiltersOrdersAndPages(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	for _, id := range []int64{3, 1, 2, 4} {
		r.AddFolder(1, id, 0, "u-1", "f")
	}
	r.AddFolder(2, 5, 0, "u-1", "other tenant")

	sel := store.Select{
		Table:   "files_folder",
		Where:   []store.Cond{store.Eq("tenant_id", 1)},
		OrderBy: []string{"id"},
	}
	page, err := r.DB.Query(ctx, sel.Page(2, 1))
	require.NoError(t, err)
	require.Equal(t, 2, page.Len())
	assert.Equal(t, int64(2), page.Row(0).Get("id"))
	assert.Equal(t, int64(3), page.Row(1).Get("id"))
	assert.Equal(t, 1, r.DB.QueryCount("files_folder"))
}

func TestQueryInSelectAndPrefix(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	r.AddFolder(1, 10, 0, "u-1", "mine")
	r.AddFolder(1, 11, 0, "u-2", "theirs")
	r.DB.Put("files_folder_tree", map[string]any{"folder_id": 10, "parent_id": 10, "level": 0})
	r.DB.Put("files_folder_tree", map[string]any{"folder_id": 11, "parent_id": 11, "level": 0})
	r.DB.Put("files_bunch_objects", map[string]any{"tenant_id": 1, "right_node": "files/my/u-1", "left_node": "10"})
	r.DB.Put("files_bunch_objects", map[string]any{"tenant_id": 1, "right_node": "files/my/u-2", "left_node": "11"})

	tree, err := r.DB.Query(ctx, store.Select{Table: "files_folder_tree", Where: []store.Cond{
		store.InSelect("folder_id", store.Select{Table: "files_folder", Columns: []string{"id"}, Where: []store.Cond{store.Eq("create_by", "u-1")}}),
	}})
	require.NoError(t, err)
	require.Equal(t, 1, tree.Len())
	assert.Equal(t, int64(10), tree.Row(0).Get("folder_id"))

	bunch, err := r.DB.Query(ctx, store.Select{Table: "files_bunch_objects", Where: []store.Cond{store.Prefix("right_node", "files/my/u-2")}})
	require.NoError(t, err)
	require.Equal(t, 1, bunch.Len())
	assert.Equal(t, "11", bunch.Row(0).Get("left_node"))
}

func TestQueryMissingTable(t *testing.T) {
	db := NewDB()
	db.Drop("files_link")
	_, err := db.Query(context.Background(), store.Select{Table: "files_link"})
	assert.ErrorIs(t, err, store.ErrTableNotFound)
}

func TestInsertMethods(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	rows := store.NewTable("core_user",
		store.Column{Name: "tenant", Kind: store.KindInt},
		store.Column{Name: "id", Kind: store.KindText},
		store.Column{Name: "username", Kind: store.KindText},
	)
	require.NoError(t, rows.Append(1, "u-1", "alice"))

	n, err := db.Insert(ctx, store.InsertSpec{Table: "core_user", Method: store.InsertPlain}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.Insert(ctx, store.InsertSpec{Table: "core_user", Method: store.InsertPlain}, rows)
	assert.Error(t, err, "plain insert conflicts")

	n, err = db.Insert(ctx, store.InsertSpec{Table: "core_user", Method: store.InsertIgnore}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	rows.Rows[0][2] = "alice2"
	_, err = db.Insert(ctx, store.InsertSpec{Table: "core_user", Method: store.InsertUpsert, ConflictColumns: []string{"id"}}, rows)
	require.NoError(t, err)
	got := db.Rows("core_user")
	require.Equal(t, 1, got.Len())
	assert.Equal(t, "alice2", got.Row(0).Get("username"))
}

func TestNextIDIsMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	r.AddFolder(1, 41, 0, "u", "f")

	a, err := r.DB.NextID(ctx, "files_folder", "id")
	require.NoError(t, err)
	b, err := r.DB.NextID(ctx, "files_folder", "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), a)
	assert.Equal(t, int64(43), b)
}

func TestDirectoryReserveAndActivate(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	r.AddTenant(1, "acme", "owner")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.Dir.ReserveTenant(ctx, "acme", now)
	assert.ErrorIs(t, err, tenancy.ErrAliasReserved)

	tn, err := r.Dir.ReserveTenant(ctx, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tn.ID)
	assert.Equal(t, tenancy.TenantSuspended, tn.Status)

	require.NoError(t, r.Dir.ActivateTenant(ctx, tn.ID, "u-1", now))
	tn, err = r.Dir.TenantByAlias(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, tenancy.TenantActive, tn.Status)
	assert.Equal(t, "u-1", tn.OwnerID)

	_, err = r.Dir.TenantByAlias(ctx, "nobody")
	assert.True(t, errors.Is(err, tenancy.ErrNotFound))
}

func TestDirectoryTenantQuotaFallsBackToTrial(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	r.AddTenant(1, "acme", "owner")
	r.AddQuota(tenancy.TrialQuotaID, 1000, 5)
	r.AddQuota(7, 5000, 50)

	q, err := r.Dir.TenantQuota(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.MaxTotalSize)

	r.AddTariff(1, 1, 7)
	q, err = r.Dir.TenantQuota(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), q.MaxTotalSize)
}

func TestBlobsListAndQuota(t *testing.T) {
	ctx := context.Background()
	r := NewRegion()
	loc := store.Location{Tenant: 1, Module: "files"}
	r.Blobs.Put(loc, "folder_1000/file_1/v1/content.txt", []byte("a"))
	r.Blobs.Put(loc, "folder_1000/file_1/v1/thumb.png", []byte("b"))
	r.Blobs.Put(loc, "folder_1000/file_12/v1/content.txt", []byte("c"))

	paths, err := r.Blobs.List(ctx, loc, "folder_1000/file_1/", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"folder_1000/file_1/v1/content.txt", "folder_1000/file_1/v1/thumb.png"}, paths)

	r.Quota.Limit = 3
	require.NoError(t, r.Blobs.Save(ctx, loc, "x", strings.NewReader("abc"), 3))
	assert.ErrorIs(t, r.Blobs.Save(ctx, loc, "y", strings.NewReader("d"), 1), store.ErrQuotaExceeded)

	qc := r.Blobs.DetachQuota()
	require.NoError(t, r.Blobs.Save(ctx, loc, "y", strings.NewReader("d"), 1))
	r.Blobs.AttachQuota(qc)
	assert.Equal(t, int64(3), r.Quota.Used(1))

	rc, err := r.Blobs.Open(ctx, loc, "y")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "d", string(data))
}
