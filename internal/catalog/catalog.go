// Package catalog describes which modules and tables take part in a tenant
// migration and how their rows are selected, scrubbed and written back.
package catalog

import (
	"fmt"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
)

// Env carries the per-job values row hooks depend on.
type Env struct {
	TenantID  int64
	UserID    string
	DestAlias string
}

// Ref is a column that references an identity remapped during restore.
type Ref struct {
	Table  string
	Column string
	// Null is written unchanged and means "no reference".
	Null any
	// Text marks an integer id stored as a decimal string.
	Text bool
	// Adopt points references to rows outside the export at the
	// referenced table's root row instead of failing.
	Adopt bool
}

// Resolver looks up remapped identifiers.
type Resolver interface {
	Resolve(table, column string, old any) (any, error)
}

// TableDescriptor describes how one table is exported and restored.
type TableDescriptor struct {
	Name string
	// TenantColumn holds the owning tenant id and is rewritten on restore.
	TenantColumn string
	// UserColumn restricts the export to the migrated user's rows.
	UserColumn string
	// Identity is an integer key reallocated in the destination.
	Identity        string
	Refs            map[string]Ref
	Insert          store.InsertMethod
	ConflictColumns []string
	KeepOnConflict  []string
	// Optional tables may be missing from older schemas.
	Optional bool
	OrderBy  []string

	Select func(env Env) store.Select
	Scrub  func(row store.Row, env Env) bool
	// Root picks the row that adopts orphaned references.
	Root func(row store.Row) bool
}

// Module groups tables that share migration treatment.
type Module struct {
	Name   string
	Tables []TableDescriptor
	// AdjustPath rewrites a blob path for the destination tenant.
	AdjustPath func(p string, r Resolver) (string, error)
}

// Table returns the named table of the module.
func (m Module) Table(name string) (TableDescriptor, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

// Path rewrites p through the module's hook, if any.
func (m Module) Path(p string, r Resolver) (string, error) {
	if m.AdjustPath == nil {
		return p, nil
	}
	return m.AdjustPath(p, r)
}

// Key returns the archive key of one of the module's tables.
func (m Module) Key(table string) string {
	return m.Name + "/" + table
}

// Catalog is an ordered, immutable list of modules.
type Catalog struct {
	modules []Module
}

// New builds a catalog from modules in dependency order.
func New(modules ...Module) Catalog {
	return Catalog{modules: modules}
}

// AllModules returns the modules in restore order.
func (c Catalog) AllModules() []Module {
	return c.modules
}

// Module returns the named module.
func (c Catalog) Module(name string) (Module, bool) {
	for _, m := range c.modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// Table finds a table descriptor across all modules.
func (c Catalog) Table(name string) (TableDescriptor, bool) {
	for _, m := range c.modules {
		if t, ok := m.Table(name); ok {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

// BuildSelectQuery returns the page [offset, offset+limit) of the rows of
// table that belong to userID on tenantID.
func (c Catalog) BuildSelectQuery(tenantID int64, table string, limit, offset int, userID string) (store.Select, error) {
	t, ok := c.Table(table)
	if !ok {
		return store.Select{}, fmt.Errorf("unknown table %q", table)
	}
	return t.BuildSelectQuery(Env{TenantID: tenantID, UserID: userID}, limit, offset), nil
}

// PrepareRow normalises dates and applies the table's scrub hook.
// It reports whether the row should be kept.
func (c Catalog) PrepareRow(table string, row store.Row, env Env) (bool, error) {
	t, ok := c.Table(table)
	if !ok {
		return false, fmt.Errorf("unknown table %q", table)
	}
	return t.PrepareRow(row, env), nil
}

// BuildSelectQuery returns one page of the table's rows for env.
func (t TableDescriptor) BuildSelectQuery(env Env, limit, offset int) store.Select {
	var sel store.Select
	if t.Select != nil {
		sel = t.Select(env)
	} else {
		sel = store.Select{Table: t.Name}
		if t.TenantColumn != "" {
			sel.Where = append(sel.Where, store.Eq(t.TenantColumn, env.TenantID))
		}
		if t.UserColumn != "" {
			sel.Where = append(sel.Where, store.Eq(t.UserColumn, env.UserID))
		}
	}
	if len(sel.OrderBy) == 0 {
		sel.OrderBy = t.order()
	}
	return sel.Page(limit, offset)
}

func (t TableDescriptor) order() []string {
	if len(t.OrderBy) > 0 {
		return t.OrderBy
	}
	if t.Identity != "" {
		return []string{t.Identity}
	}
	return t.ConflictColumns
}

// PrepareRow normalises dates and applies the scrub hook.
func (t TableDescriptor) PrepareRow(row store.Row, env Env) bool {
	values := row.Values()
	for i, v := range values {
		if ts, ok := v.(time.Time); ok {
			values[i] = store.StripZone(ts)
		}
	}
	if t.Scrub == nil {
		return true
	}
	return t.Scrub(row, env)
}

// Restored reports whether the table's rows are written back on restore.
func (t TableDescriptor) Restored() bool {
	return t.Insert != store.InsertNone
}

// InsertSpec returns the bulk write description for the table.
func (t TableDescriptor) InsertSpec() store.InsertSpec {
	return store.InsertSpec{
		Table:           t.Name,
		Method:          t.Insert,
		ConflictColumns: t.ConflictColumns,
		KeepOnConflict:  t.KeepOnConflict,
	}
}

var blocked = map[string]bool{
	"files_thirdparty_account": true,
	"files_security":           true,
	"core_acl":                 true,
	"tenants_quotarow":         true,
	"tenants_tariff":           true,
	"tenants_quota":            true,
}

// Blocked reports whether table is shared per tenant or rebuilt downstream
// and therefore never part of a per-user export.
func Blocked(table string) bool {
	return blocked[table]
}
