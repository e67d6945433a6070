package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/mapper"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// migrate runs extraction then restore for req.
func (w *world) migrate(t *testing.T, req ExportRequest) *RestoreResult {
	t.Helper()
	ctx := context.Background()

	exported, err := w.creator().Create(ctx, req)
	require.NoError(t, err)

	res, err := w.runner().Run(ctx, RestoreRequest{
		ArchivePath: exported.ArchivePath,
		DestRegion:  req.DestRegion,
		SourceAlias: req.SourceAlias,
		DestAlias:   req.DestAlias,
		TotalBytes:  exported.TotalBytes,
	})
	require.NoError(t, err)
	return res
}

func TestMigrateIntoNewTenant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res := w.migrate(t, aliceRequest())
	assert.Equal(t, "alice", res.Alias)
	assert.Equal(t, int64(41), res.TenantID)
	assert.Equal(t, 2, res.Files)

	tenant, err := w.dst.Dir.TenantByAlias(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.TenantID, tenant.ID)
	assert.Equal(t, tenancy.TenantActive, tenant.Status)
	assert.Equal(t, aliceID, tenant.OwnerID)
	assert.Equal(t, "", tenant.Name)
	assert.Equal(t, 0, tenant.Industry)

	quotaRows := rowsWhere(w.dst.DB.Rows("tenants_quotarow"), "tenant", tenant.ID)
	require.Len(t, quotaRows, 1)
	assert.Equal(t, int64(500), quotaRows[0].Get("counter"))
	assert.Equal(t, "/files/", quotaRows[0].Get("path"))

	tariffs := rowsWhere(w.dst.DB.Rows("tenants_tariff"), "tenant", tenant.ID)
	require.Len(t, tariffs, 1)
	assert.Equal(t, tenancy.TrialQuotaID, tariffs[0].Get("tariff"))
	assert.Equal(t, tenancy.MaxStamp, tariffs[0].Get("stamp"))

	groups := rowsWhere(w.dst.DB.Rows("core_usergroup"), "groupid", tenancy.AdminGroupID)
	require.Len(t, groups, 1)
	assert.Equal(t, aliceID, groups[0].Get("userid"))
	assert.Equal(t, tenant.ID, groups[0].Get("tenant"))

	user, err := w.dst.Dir.FindUser(ctx, tenant.ID, tenancy.UserQuery{UserName: "Alice"}, tenancy.UserActive)
	require.NoError(t, err)
	assert.Equal(t, aliceID, user.ID)

	assert.Equal(t, 1, logLines(w, EventReconciled))
	assert.Equal(t, 1, logLines(w, EventCompleted))
}

func TestMigrateResolvesTakenAlias(t *testing.T) {
	w := newWorld(t)
	w.dst.AddTenant(50, "alice", "u-someone")

	res := w.migrate(t, aliceRequest())
	assert.Equal(t, "alice1", res.Alias)

	existing, err := w.dst.Dir.TenantByID(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, "alice", existing.Alias)
	assert.Equal(t, "alice", existing.Name)
}

func TestMigrateRemapsForeignKeys(t *testing.T) {
	w := newWorld(t)
	res := w.migrate(t, aliceRequest())
	newID := res.TenantID
	require.NotEqual(t, srcTenantID, newID)

	tenantColumns := map[string]string{
		"core_user":           "tenant",
		"core_usersecurity":   "tenant",
		"core_usergroup":      "tenant",
		"webstudio_settings":  "tenantid",
		"files_folder":        "tenant_id",
		"files_file":          "tenant_id",
		"files_bunch_objects": "tenant_id",
		"files_link":          "tenant_id",
	}
	for table, col := range tenantColumns {
		rows := w.dst.DB.Rows(table)
		require.NotNil(t, rows, table)
		assert.Empty(t, rowsWhere(rows, col, srcTenantID), table)
		assert.NotEmpty(t, rowsWhere(rows, col, newID), table)
	}

	folders := rowsWhere(w.dst.DB.Rows("files_folder"), "tenant_id", newID)
	require.Len(t, folders, 2)
	byTitle := make(map[string]store.Row)
	for _, f := range folders {
		byTitle[f.Get("title").(string)] = f
	}
	root, reports := byTitle["My documents"], byTitle["Reports"]
	assert.Equal(t, int64(0), root.Get("parent_id"))
	assert.Equal(t, root.Get("id"), reports.Get("parent_id"))
	assert.NotEqual(t, int64(10), root.Get("id"))

	files := rowsWhere(w.dst.DB.Rows("files_file"), "tenant_id", newID)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.Greater(t, f.Get("id").(int64), int64(2000))
		assert.Contains(t, []any{root.Get("id"), reports.Get("id")}, f.Get("folder_id"))
	}

	tree := w.dst.DB.Rows("files_folder_tree")
	require.Equal(t, 3, tree.Len())
	assert.Len(t, rowsWhere(tree, "folder_id", reports.Get("id")), 2)

	bunch := rowsWhere(w.dst.DB.Rows("files_bunch_objects"), "tenant_id", newID)
	require.Len(t, bunch, 1)
	assert.Equal(t, "1", bunch[0].Get("left_node"))

	links := rowsWhere(w.dst.DB.Rows("files_link"), "tenant_id", newID)
	require.Len(t, links, 1)
	assert.Equal(t, int64(2001), links[0].Get("source_id"))
	assert.Equal(t, int64(2002), links[0].Get("linked_id"))

	loc := store.Location{Tenant: newID, Module: "files"}
	assert.Equal(t, []string{
		"folder_3000/file_2001/v1/content.docx",
		"folder_3000/file_2002/v1/content.xlsx",
	}, w.dst.Blobs.Paths(loc))
	doc, ok := w.dst.Blobs.Get(loc, "folder_3000/file_2001/v1/content.docx")
	require.True(t, ok)
	assert.Len(t, doc, 300)
}

// folderByTitle returns the restored folder of tenant with the given title.
func folderByTitle(t *testing.T, w *world, tenant int64, title string) store.Row {
	t.Helper()
	for _, f := range rowsWhere(w.dst.DB.Rows("files_folder"), "tenant_id", tenant) {
		if f.Get("title") == title {
			return f
		}
	}
	t.Fatalf("folder %q not restored", title)
	return store.Row{}
}

func TestMigrateAdoptsFileInForeignFolder(t *testing.T) {
	w := newWorld(t)
	w.src.AddFile(srcTenantID, 20, 12, aliceID, "shared.txt", []byte("shared"), "folder_1000/file_20/v1/content.txt")

	res := w.migrate(t, aliceRequest())
	assert.Equal(t, 3, res.Files)

	root := folderByTitle(t, w, res.TenantID, "My documents")
	shared := rowsWhere(w.dst.DB.Rows("files_file"), "title", "shared.txt")
	require.Len(t, shared, 1)
	assert.Equal(t, res.TenantID, shared[0].Get("tenant_id"))
	assert.Equal(t, root.Get("id"), shared[0].Get("folder_id"))

	assert.Len(t, rowsWhere(w.dst.DB.Rows("files_folder"), "tenant_id", res.TenantID), 2)
	assert.Empty(t, rowsWhere(w.dst.DB.Rows("files_folder"), "title", "Bob's documents"))
	assert.Equal(t, 1, logLines(w, EventRowsAdopted))
}

func TestMigrateAdoptsSubfolderOfForeignFolder(t *testing.T) {
	w := newWorld(t)
	w.src.AddFolder(srcTenantID, 13, 12, aliceID, "Drafts")
	w.src.DB.Put("files_folder_tree", map[string]any{"folder_id": 13, "parent_id": 12, "level": 1})
	w.src.DB.Put("files_folder_tree", map[string]any{"folder_id": 13, "parent_id": 13, "level": 0})
	w.src.AddFile(srcTenantID, 21, 13, aliceID, "draft.txt", []byte("draft"), "folder_1000/file_21/v1/content.txt")

	res := w.migrate(t, aliceRequest())
	assert.Equal(t, 3, res.Files)

	root := folderByTitle(t, w, res.TenantID, "My documents")
	drafts := folderByTitle(t, w, res.TenantID, "Drafts")
	assert.Equal(t, root.Get("id"), drafts.Get("parent_id"))
	assert.NotEqual(t, int64(13), drafts.Get("id"))

	draft := rowsWhere(w.dst.DB.Rows("files_file"), "title", "draft.txt")
	require.Len(t, draft, 1)
	assert.Equal(t, drafts.Get("id"), draft[0].Get("folder_id"))

	tree := rowsWhere(w.dst.DB.Rows("files_folder_tree"), "folder_id", drafts.Get("id"))
	require.Len(t, tree, 1)
	assert.Equal(t, drafts.Get("id"), tree[0].Get("parent_id"))
	assert.Empty(t, rowsWhere(w.dst.DB.Rows("files_folder"), "title", "Bob's documents"))
	assert.Equal(t, 1, logLines(w, EventRowsAdopted))
}

func TestMigrateIntoExistingTenant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.dst.AddQuota(5, 10000, 10)
	w.dst.AddTariff(1, 40, 5)

	req := aliceRequest()
	req.DestAlias = "globex"
	res := w.migrate(t, req)
	assert.Equal(t, "globex", res.Alias)
	assert.Equal(t, int64(40), res.TenantID)

	tenant, err := w.dst.Dir.TenantByID(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, "u-carol", tenant.OwnerID)
	assert.Equal(t, "globex", tenant.Name)
	assert.Equal(t, tenancy.TenantActive, tenant.Status)
	assert.Equal(t, 1, w.dst.DB.Rows("tenants_tenants").Len())
	assert.Empty(t, rowsWhere(w.dst.DB.Rows("webstudio_settings"), "userid", aliceID))

	users := rowsWhere(w.dst.DB.Rows("core_user"), "tenant", int64(40))
	assert.Len(t, users, 2)
	files := rowsWhere(w.dst.DB.Rows("files_file"), "tenant_id", int64(40))
	assert.Len(t, files, 3)

	admins := rowsWhere(w.dst.DB.Rows("core_usergroup"), "groupid", tenancy.AdminGroupID)
	require.Len(t, admins, 1)
	assert.Equal(t, "u-carol", admins[0].Get("userid"))

	tariffs := rowsWhere(w.dst.DB.Rows("tenants_tariff"), "tenant", int64(40))
	require.Len(t, tariffs, 1)
	assert.Equal(t, tenancy.TrialQuotaID, tariffs[0].Get("tariff"))
}

func TestRestoreDetachesQuotaDuringBlobReplay(t *testing.T) {
	w := newWorld(t)
	w.dst.Quota.Limit = 1

	res := w.migrate(t, aliceRequest())
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, int64(0), w.dst.Quota.Used(res.TenantID))
	assert.Same(t, w.dst.Quota, w.dst.Blobs.DetachQuota())
}

func TestRestoreUnmappedReferenceIsInvariantViolation(t *testing.T) {
	w := newWorld(t)
	path := filepath.Join(t.TempDir(), "broken.tar")

	aw, err := archive.Create(path, archive.CompressionNone)
	require.NoError(t, err)
	files := store.NewTable("files_file",
		store.Column{Name: "id", Kind: store.KindInt},
		store.Column{Name: "version", Kind: store.KindInt},
		store.Column{Name: "folder_id", Kind: store.KindInt},
		store.Column{Name: "tenant_id", Kind: store.KindInt},
	)
	require.NoError(t, files.Append(7, 1, 99, srcTenantID))
	require.NoError(t, aw.WriteTable("files/files_file", files))
	require.NoError(t, aw.WriteManifest(&archive.Manifest{SourceTenantID: srcTenantID, UserID: aliceID, DestAlias: "globex"}))
	require.NoError(t, aw.Close())

	_, err = w.runner().Run(context.Background(), RestoreRequest{ArchivePath: path, DestRegion: destRegion, DestAlias: "globex"})
	require.Error(t, err)
	assert.Equal(t, KindInvariant, KindOf(err))
	assert.True(t, errors.Is(err, mapper.ErrUnmapped))
	assert.Equal(t, 1, logLines(w, EventFailed))
}

func TestRestoreMissingDestinationTenant(t *testing.T) {
	w := newWorld(t)
	exported, err := w.creator().Create(context.Background(), aliceRequest())
	require.NoError(t, err)

	_, err = w.runner().Run(context.Background(), RestoreRequest{
		ArchivePath: exported.ArchivePath,
		DestRegion:  destRegion,
		DestAlias:   "initech",
	})
	assert.True(t, errors.Is(err, ErrTenantNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))
}
