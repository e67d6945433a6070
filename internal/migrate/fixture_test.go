package migrate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/store/memstore"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

const (
	srcTenantID = int64(1)
	aliceID     = "u-alice"
	bobID       = "u-bob"
	destRegion  = "eu"

	aliceDoc   = "folder_1000/file_7/v1/content.docx"
	aliceSheet = "folder_1000/file_8/v1/content.xlsx"
	aliceThumb = "folder_1000/file_7/v1/thumb.png"
)

var filesLoc = store.Location{Tenant: srcTenantID, Module: "files"}

// world is a source region holding tenant acme and a destination region.
type world struct {
	src     *memstore.Region
	dst     *memstore.Region
	regions memstore.Regions
	logs    *bytes.Buffer
	log     *slog.Logger
	opts    Options
}

// newWorld builds tenant acme (id 1, owner bob) with user alice who owns
// two folders and two files of 300 and 200 bytes. The destination region
// holds an unrelated tenant 40 with file 2000 and a trial quota of 1000
// bytes.
func newWorld(t *testing.T) *world {
	t.Helper()

	src := memstore.NewRegion()
	src.AddTenant(srcTenantID, "acme", bobID)
	src.AddUser(srcTenantID, aliceID, "Alice", "alice@acme.test")
	src.AddUser(srcTenantID, bobID, "bob", "bob@acme.test")
	src.DB.Put("core_usersecurity", map[string]any{"tenant": srcTenantID, "userid": aliceID, "pwdhash": "h1"})
	src.DB.Put("core_usergroup", map[string]any{"tenant": srcTenantID, "userid": aliceID, "groupid": "g-staff", "ref_type": 0})
	src.DB.Put("webstudio_settings", map[string]any{"tenantid": srcTenantID, "id": "s-1", "userid": aliceID, "data": "{}"})
	src.DB.Put("core_acl", map[string]any{"tenant": srcTenantID, "subject": aliceID, "action": "read", "object": "x"})

	src.AddFolder(srcTenantID, 10, 0, aliceID, "My documents")
	src.AddFolder(srcTenantID, 11, 10, aliceID, "Reports")
	src.AddFolder(srcTenantID, 12, 0, bobID, "Bob's documents")
	src.DB.Put("files_folder_tree", map[string]any{"folder_id": 10, "parent_id": 10, "level": 0})
	src.DB.Put("files_folder_tree", map[string]any{"folder_id": 11, "parent_id": 10, "level": 1})
	src.DB.Put("files_folder_tree", map[string]any{"folder_id": 11, "parent_id": 11, "level": 0})
	src.DB.Put("files_bunch_objects", map[string]any{"tenant_id": srcTenantID, "right_node": "files/my/" + aliceID, "left_node": "10"})
	src.DB.Put("files_bunch_objects", map[string]any{"tenant_id": srcTenantID, "right_node": "files/my/" + aliceID + "/", "left_node": "0"})

	src.AddFile(srcTenantID, 7, 10, aliceID, "report.docx", bytes.Repeat([]byte("d"), 300), aliceDoc)
	src.AddFile(srcTenantID, 8, 11, aliceID, "forecast.xlsx", bytes.Repeat([]byte("s"), 200), aliceSheet)
	src.AddFile(srcTenantID, 9, 12, bobID, "bob.txt", []byte("bob"), "folder_1000/file_9/v1/content.txt")
	src.Blobs.Put(filesLoc, aliceThumb, []byte("png"))
	src.DB.Put("files_link", map[string]any{"tenant_id": srcTenantID, "source_id": 7, "linked_id": 8, "linked_for": aliceID})

	dst := memstore.NewRegion()
	dst.AddTenant(40, "globex", "u-carol")
	dst.AddUser(40, "u-carol", "carol", "carol@globex.test")
	dst.AddFile(40, 2000, 0, "u-carol", "carol.txt", []byte("carol"), "")
	dst.AddQuota(tenancy.TrialQuotaID, 1000, 0)

	var logs bytes.Buffer
	opts := DefaultOptions()
	opts.CopyDelay = 0
	opts.ArchiveDir = t.TempDir()

	return &world{
		src:     src,
		dst:     dst,
		regions: memstore.Regions{"": src, destRegion: dst},
		logs:    &logs,
		log:     slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		opts:    opts,
	}
}

func (w *world) creator() *Creator {
	return NewCreator(w.regions, w.opts, w.log)
}

func (w *world) runner() *Runner {
	return NewRunner(w.regions, w.opts, w.log)
}

// aliceRequest exports alice into a new tenant of the destination region.
func aliceRequest() ExportRequest {
	return ExportRequest{
		SourceAlias: "acme",
		User:        tenancy.UserQuery{Email: "alice@acme.test"},
		DestRegion:  destRegion,
	}
}

// rowsWhere returns the rows of table whose column equals value.
func rowsWhere(tbl *store.Table, column string, value any) []store.Row {
	var out []store.Row
	for i := 0; i < tbl.Len(); i++ {
		if r := tbl.Row(i); r.Get(column) == value {
			out = append(out, r)
		}
	}
	return out
}

func logLines(w *world, event EventType) int {
	return strings.Count(w.logs.String(), `"msg":"`+string(event)+`"`)
}
