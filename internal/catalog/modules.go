package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/tenantmove/internal/store"
)

// Module names.
const (
	ModuleTenants  = "tenants"
	ModuleCore     = "core"
	ModuleSettings = "settings"
	ModuleFiles    = "files"
)

// Table names referenced outside the catalog.
const (
	TableTenants = "tenants_tenants"
	TableFolders = "files_folder"
	TableFiles   = "files_file"
)

// FolderTypeUser marks a user's "My documents" root folder.
const FolderTypeUser int64 = 5

// Tenants is the tenant identity module.
func Tenants() Module {
	return Module{
		Name: ModuleTenants,
		Tables: []TableDescriptor{
			{
				Name: TableTenants,
				Select: func(env Env) store.Select {
					return store.Select{Table: TableTenants, Where: []store.Cond{store.Eq("id", env.TenantID)}}
				},
				Scrub:           scrubTenant,
				Insert:          store.InsertUpsert,
				ConflictColumns: []string{"alias"},
				KeepOnConflict:  []string{"id", "status"},
				OrderBy:         []string{"id"},
			},
			{Name: "tenants_quota", TenantColumn: "tenant", OrderBy: []string{"tenant"}},
			{Name: "tenants_quotarow", TenantColumn: "tenant", OrderBy: []string{"path"}},
			{Name: "tenants_tariff", TenantColumn: "tenant", OrderBy: []string{"id"}},
		},
	}
}

// scrubTenant assigns the resolved alias and resets identifying fields.
func scrubTenant(row store.Row, env Env) bool {
	if env.DestAlias != "" {
		row.Set("alias", env.DestAlias)
	}
	row.Set("name", "")
	row.Set("industry", int64(0))
	return true
}

// Core is the user identity module.
func Core() Module {
	return Module{
		Name: ModuleCore,
		Tables: []TableDescriptor{
			{
				Name:            "core_user",
				TenantColumn:    "tenant",
				UserColumn:      "id",
				Insert:          store.InsertUpsert,
				ConflictColumns: []string{"id"},
			},
			{
				Name:            "core_usersecurity",
				TenantColumn:    "tenant",
				UserColumn:      "userid",
				Insert:          store.InsertUpsert,
				ConflictColumns: []string{"userid"},
			},
			{
				Name:         "core_usergroup",
				TenantColumn: "tenant",
				UserColumn:   "userid",
				Insert:       store.InsertIgnore,
				OrderBy:      []string{"groupid", "ref_type"},
			},
			{Name: "core_acl", TenantColumn: "tenant", OrderBy: []string{"subject", "action", "object"}},
		},
	}
}

// Settings holds per-user portal settings.
func Settings() Module {
	return Module{
		Name: ModuleSettings,
		Tables: []TableDescriptor{
			{
				Name:            "webstudio_settings",
				TenantColumn:    "tenantid",
				UserColumn:      "userid",
				Insert:          store.InsertUpsert,
				ConflictColumns: []string{"tenantid", "id", "userid"},
			},
		},
	}
}

// Files holds the user's documents and folder tree.
func Files() Module {
	folderRef := Ref{Table: TableFolders, Column: "id", Null: int64(0), Adopt: true}
	userFolders := func(env Env) store.Select {
		return store.Select{
			Table:   TableFolders,
			Columns: []string{"id"},
			Where:   []store.Cond{store.Eq("tenant_id", env.TenantID), store.Eq("create_by", env.UserID)},
		}
	}
	userFiles := func(env Env) store.Select {
		return store.Select{
			Table:   TableFiles,
			Columns: []string{"id"},
			Where:   []store.Cond{store.Eq("tenant_id", env.TenantID), store.Eq("create_by", env.UserID)},
		}
	}
	return Module{
		Name:       ModuleFiles,
		AdjustPath: adjustFilePath,
		Tables: []TableDescriptor{
			{
				Name:         TableFolders,
				TenantColumn: "tenant_id",
				UserColumn:   "create_by",
				Identity:     "id",
				Refs:         map[string]Ref{"parent_id": folderRef},
				Root: func(row store.Row) bool {
					return store.Normalize(row.Get("parent_id")) == int64(0) &&
						store.Normalize(row.Get("folder_type")) == FolderTypeUser
				},
				Insert: store.InsertPlain,
			},
			{
				Name: "files_folder_tree",
				Select: func(env Env) store.Select {
					return store.Select{
						Table: "files_folder_tree",
						Where: []store.Cond{
							store.InSelect("folder_id", userFolders(env)),
							store.InSelect("parent_id", userFolders(env)),
						},
					}
				},
				Refs: map[string]Ref{
					"folder_id": {Table: TableFolders, Column: "id"},
					"parent_id": {Table: TableFolders, Column: "id"},
				},
				Insert:  store.InsertIgnore,
				OrderBy: []string{"folder_id", "parent_id"},
			},
			{
				Name:         TableFiles,
				TenantColumn: "tenant_id",
				UserColumn:   "create_by",
				Identity:     "id",
				Refs:         map[string]Ref{"folder_id": folderRef},
				Scrub: func(row store.Row, _ Env) bool {
					row.Set("thumb", int64(0))
					return true
				},
				Insert:  store.InsertPlain,
				OrderBy: []string{"id", "version"},
			},
			{
				Name: "files_bunch_objects",
				Select: func(env Env) store.Select {
					return store.Select{
						Table: "files_bunch_objects",
						Where: []store.Cond{
							store.Eq("tenant_id", env.TenantID),
							store.Prefix("right_node", "files/my/"+env.UserID),
						},
					}
				},
				TenantColumn: "tenant_id",
				Refs:         map[string]Ref{"left_node": {Table: TableFolders, Column: "id", Text: true}},
				Scrub: func(row store.Row, _ Env) bool {
					node, _ := row.Get("right_node").(string)
					return !strings.HasSuffix(node, "/")
				},
				Insert:  store.InsertIgnore,
				OrderBy: []string{"right_node"},
			},
			{
				Name: "files_link",
				Select: func(env Env) store.Select {
					return store.Select{
						Table: "files_link",
						Where: []store.Cond{
							store.Eq("tenant_id", env.TenantID),
							store.Eq("linked_for", env.UserID),
							store.InSelect("source_id", userFiles(env)),
							store.InSelect("linked_id", userFiles(env)),
						},
					}
				},
				TenantColumn: "tenant_id",
				Refs: map[string]Ref{
					"source_id": {Table: TableFiles, Column: "id"},
					"linked_id": {Table: TableFiles, Column: "id"},
				},
				Insert:   store.InsertIgnore,
				Optional: true,
				OrderBy:  []string{"source_id", "linked_id"},
			},
			{Name: "files_thirdparty_account", TenantColumn: "tenant_id", UserColumn: "user_id", OrderBy: []string{"id"}},
			{Name: "files_security", TenantColumn: "tenant_id", OrderBy: []string{"entry_id", "subject"}},
		},
	}
}

// BucketedDir returns the blob directory of a file: folder_{ceil(id/1000)*1000}/file_{id}.
func BucketedDir(fileID int64) string {
	bucket := (fileID + 999) / 1000 * 1000
	return fmt.Sprintf("folder_%d/file_%d", bucket, fileID)
}

// adjustFilePath rewrites the file id embedded in a bucketed blob path.
func adjustFilePath(p string, r Resolver) (string, error) {
	parts := strings.SplitN(p, "/", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "folder_") || !strings.HasPrefix(parts[1], "file_") {
		return p, nil
	}
	old, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "file_"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse file id in %q: %w", p, err)
	}
	v, err := r.Resolve(TableFiles, "id", old)
	if err != nil {
		return "", err
	}
	id, ok := v.(int64)
	if !ok {
		return "", fmt.Errorf("file id %v remapped to %T", old, v)
	}
	dir := BucketedDir(id)
	if len(parts) == 3 {
		return dir + "/" + parts[2], nil
	}
	return dir, nil
}

// Full is the catalog used when the destination tenant is created.
func Full() Catalog {
	return New(Tenants(), Core(), Settings(), Files())
}

// Narrow is the catalog used when merging into an existing tenant:
// tenant identity and settings are left to the destination.
func Narrow() Catalog {
	core := Core()
	core.Tables = core.Tables[:3]
	return New(core, Files())
}

// ForDestination selects the catalog for a job. An empty destination alias
// means a new tenant is created.
func ForDestination(destAlias string) Catalog {
	if destAlias == "" {
		return Full()
	}
	return Narrow()
}
