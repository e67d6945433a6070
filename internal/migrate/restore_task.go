package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/catalog"
	"github.com/willibrandon/tenantmove/internal/mapper"
	"github.com/willibrandon/tenantmove/internal/store"
)

// tableResult is the outcome of restoring one table.
type tableResult struct {
	Table string
	Rows  int64
}

// restoreTask replays the table entries of one module into a database.
type restoreTask struct {
	db       store.DB
	module   catalog.Module
	mapper   *mapper.Mapper
	pageSize int
	events   *eventLogger
	// roots holds the new identity of each table's root row.
	roots map[string]int64
}

func newRestoreTask(db store.DB, module catalog.Module, m *mapper.Mapper, pageSize int, events *eventLogger) *restoreTask {
	return &restoreTask{db: db, module: module, mapper: m, pageSize: pageSize, events: events, roots: make(map[string]int64)}
}

// Run restores every restorable table of the module found in r, in
// catalog order.
func (t *restoreTask) Run(ctx context.Context, r *archive.Reader) ([]tableResult, error) {
	var results []tableResult
	for _, td := range t.module.Tables {
		if !td.Restored() {
			continue
		}
		key := t.module.Key(td.Name)
		if !r.Has(key) {
			// An absent entry holds no rows; identity mappings are still
			// committed so later refs fail as unmapped, not uncommitted.
			if td.Identity != "" {
				t.mapper.Commit(td.Name, td.Identity)
			}
			continue
		}
		tbl, err := r.ReadTable(key)
		if err != nil {
			return results, fail("read "+key, KindTransientStore, err)
		}
		n, err := t.restoreTable(ctx, td, tbl)
		if err != nil {
			return results, err
		}
		t.events.Log(Event{Level: "debug", Event: EventTableRestored, Table: td.Name, Rows: n})
		results = append(results, tableResult{Table: td.Name, Rows: n})
	}
	return results, nil
}

func (t *restoreTask) restoreTable(ctx context.Context, td catalog.TableDescriptor, tbl *store.Table) (int64, error) {
	op := "restore " + td.Name

	allocated, err := t.allocate(ctx, td, tbl)
	if err != nil {
		return 0, err
	}
	if td.Root != nil {
		for i := 0; i < tbl.Len(); i++ {
			if row := tbl.Row(i); td.Root(row) {
				old, _ := asID(row.Get(td.Identity))
				t.roots[td.Name] = allocated[old]
				break
			}
		}
	}

	var adopted int64
	for i := 0; i < tbl.Len(); i++ {
		row := tbl.Row(i)
		if td.Identity != "" {
			old, _ := asID(row.Get(td.Identity))
			row.Set(td.Identity, allocated[old])
		}
		if td.TenantColumn != "" && row.Has(td.TenantColumn) {
			v, err := t.mapper.Resolve(catalog.TableTenants, "id", row.Get(td.TenantColumn))
			if err != nil {
				return 0, fail(op, KindInvariant, err)
			}
			row.Set(td.TenantColumn, v)
		}
		for col, ref := range td.Refs {
			if !row.Has(col) {
				continue
			}
			v, orphan, err := t.resolveRef(td, ref, row.Get(col), allocated)
			if err != nil {
				return 0, fail(fmt.Sprintf("%s.%s", op, col), KindInvariant, err)
			}
			if orphan {
				adopted++
			}
			row.Set(col, v)
		}
	}
	if adopted > 0 {
		t.events.Log(Event{Event: EventRowsAdopted, Table: td.Name, Rows: adopted})
	}

	var affected int64
	spec := td.InsertSpec()
	for start := 0; start < tbl.Len(); start += t.pageSize {
		end := min(start+t.pageSize, tbl.Len())
		chunk := &store.Table{Name: td.Name, Columns: tbl.Columns, Rows: tbl.Rows[start:end]}
		n, err := t.db.Insert(ctx, spec, chunk)
		if err != nil {
			return affected, fail(op, KindOf(err), err)
		}
		affected += n
	}

	if td.Identity != "" {
		for old, id := range allocated {
			if err := t.mapper.Add(td.Name, td.Identity, old, id); err != nil {
				return affected, fail(op, KindInvariant, err)
			}
		}
		t.mapper.Commit(td.Name, td.Identity)
	}
	return affected, nil
}

// allocate reserves one destination id per distinct source identity.
// Rows sharing an identity, such as file versions, share the new id.
func (t *restoreTask) allocate(ctx context.Context, td catalog.TableDescriptor, tbl *store.Table) (map[int64]int64, error) {
	allocated := make(map[int64]int64)
	if td.Identity == "" {
		return allocated, nil
	}
	if tbl.ColumnIndex(td.Identity) < 0 {
		return nil, failf("restore "+td.Name, KindInvariant, "identity column %s missing from archive", td.Identity)
	}
	for i := 0; i < tbl.Len(); i++ {
		v := tbl.Row(i).Get(td.Identity)
		old, ok := asID(v)
		if !ok {
			return nil, failf("restore "+td.Name, KindInvariant, "identity %v is not an integer", v)
		}
		if _, ok := allocated[old]; ok {
			continue
		}
		id, err := t.db.NextID(ctx, td.Name, td.Identity)
		if err != nil {
			return nil, fail("allocate "+td.Name, KindTransientStore, err)
		}
		allocated[old] = id
	}
	return allocated, nil
}

// resolveRef rewrites one reference value. Refs into the table being
// restored resolve through its pending allocations. A reference to a row
// outside the export falls back to the referenced table's root when the
// ref allows adoption; orphan reports that it did.
func (t *restoreTask) resolveRef(td catalog.TableDescriptor, ref catalog.Ref, v any, allocated map[int64]int64) (resolved any, orphan bool, err error) {
	if v == nil || (ref.Null != nil && v == ref.Null) {
		return v, false, nil
	}

	old := v
	if ref.Text {
		s, _ := v.(string)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("reference %q is not a decimal id: %w", s, err)
		}
		old = n
	}

	if ref.Table == td.Name && ref.Column == td.Identity {
		id, _ := asID(old)
		if n, ok := allocated[id]; ok {
			resolved = n
		} else {
			err = fmt.Errorf("resolve %s.%s=%v: %w", ref.Table, ref.Column, old, mapper.ErrUnmapped)
		}
	} else {
		resolved, err = t.mapper.Resolve(ref.Table, ref.Column, old)
	}
	if err != nil {
		root, ok := t.roots[ref.Table]
		if !ref.Adopt || !ok || !errors.Is(err, mapper.ErrUnmapped) {
			return nil, false, err
		}
		resolved, orphan = root, true
	}

	if ref.Text {
		id, ok := asID(resolved)
		if !ok {
			return nil, false, fmt.Errorf("reference %v remapped to %T", old, resolved)
		}
		return strconv.FormatInt(id, 10), orphan, nil
	}
	return resolved, orphan, nil
}

func asID(v any) (int64, bool) {
	switch x := store.Normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), float64(int64(x)) == x
	default:
		return 0, false
	}
}
