package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
)

// DB is an in-memory relational store.
type DB struct {
	mu       sync.Mutex
	tables   map[string]*memTable
	failures map[string]error
	queries  map[string]int
	ids      map[string]int64
}

type memTable struct {
	store.Table
	unique [][]string
}

// NewDB returns a DB holding every table of the migration schema, empty.
func NewDB() *DB {
	d := &DB{
		tables:   make(map[string]*memTable),
		failures: make(map[string]error),
		queries:  make(map[string]int),
		ids:      make(map[string]int64),
	}
	for name, s := range schema {
		d.tables[name] = &memTable{Table: store.Table{Name: name, Columns: s.columns}, unique: s.unique}
	}
	return d
}

var _ store.DB = (*DB)(nil)

// Drop removes a table; later queries fail with store.ErrTableNotFound.
func (d *DB) Drop(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tables, table)
}

// FailQueries makes every query of table return err. A nil err clears it.
func (d *DB) FailQueries(table string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, table)
		return
	}
	d.failures[table] = err
}

// QueryCount returns the number of Query calls issued against table.
func (d *DB) QueryCount(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[table]
}

// Put inserts a row given as column values. Missing bool columns are
// false and other missing columns are nil.
func (d *DB) Put(table string, values map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		panic(fmt.Sprintf("memstore: unknown table %s", table))
	}
	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok && c.Kind == store.KindBool {
			v = false
		}
		row[i] = store.Normalize(v)
	}
	t.Rows = append(t.Rows, row)
}

// Rows returns a copy of every row of table.
func (d *DB) Rows(table string) *store.Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return nil
	}
	return copyTable(&t.Table, t.Rows)
}

// Query evaluates sel against the in-memory rows.
func (d *DB) Query(ctx context.Context, sel store.Select) (*store.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[sel.Table]++
	if err, ok := d.failures[sel.Table]; ok {
		return nil, err
	}
	return d.query(sel)
}

func (d *DB) query(sel store.Select) (*store.Table, error) {
	t, ok := d.tables[sel.Table]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", sel.Table, store.ErrTableNotFound)
	}

	var rows [][]any
	for _, row := range t.Rows {
		match, err := d.matches(&t.Table, row, sel.Where)
		if err != nil {
			return nil, err
		}
		if match {
			rows = append(rows, row)
		}
	}

	if len(sel.OrderBy) > 0 {
		idx := make([]int, len(sel.OrderBy))
		for i, c := range sel.OrderBy {
			idx[i] = t.ColumnIndex(c)
			if idx[i] < 0 {
				return nil, fmt.Errorf("query %s: unknown order column %s", sel.Table, c)
			}
		}
		sort.SliceStable(rows, func(a, b int) bool {
			for _, i := range idx {
				if c := compare(rows[a][i], rows[b][i]); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if sel.Offset > 0 {
		if sel.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[sel.Offset:]
		}
	}
	if sel.Limit > 0 && len(rows) > sel.Limit {
		rows = rows[:sel.Limit]
	}

	out := copyTable(&t.Table, rows)
	if len(sel.Columns) > 0 {
		return project(out, sel.Columns)
	}
	return out, nil
}

func (d *DB) matches(t *store.Table, row []any, where []store.Cond) (bool, error) {
	for _, c := range where {
		i := t.ColumnIndex(c.Column)
		if i < 0 {
			return false, fmt.Errorf("query %s: unknown column %s", t.Name, c.Column)
		}
		switch c.Op {
		case store.OpEq:
			if !equal(row[i], c.Value) {
				return false, nil
			}
		case store.OpPrefix:
			s, _ := row[i].(string)
			if !strings.HasPrefix(s, fmt.Sprint(c.Value)) {
				return false, nil
			}
		case store.OpIn:
			sub, err := d.query(*c.Sub)
			if err != nil {
				return false, err
			}
			found := false
			for _, sr := range sub.Rows {
				if equal(row[i], sr[0]) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %d", c.Op)
		}
	}
	return true, nil
}

// Insert writes t into the named table honouring spec.Method.
func (d *DB) Insert(ctx context.Context, spec store.InsertSpec, t *store.Table) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.tables[spec.Table]
	if !ok {
		return 0, fmt.Errorf("insert %s: %w", spec.Table, store.ErrTableNotFound)
	}

	var affected int64
	for _, src := range t.Rows {
		row := make([]any, len(target.Columns))
		for i, c := range target.Columns {
			if j := t.ColumnIndex(c.Name); j >= 0 {
				row[i] = store.Normalize(src[j])
			}
		}

		existing, key := target.conflict(row, spec.ConflictColumns)
		if existing < 0 {
			target.Rows = append(target.Rows, row)
			affected++
			continue
		}
		switch spec.Method {
		case store.InsertIgnore:
		case store.InsertUpsert:
			keep := make(map[string]bool)
			for _, c := range append(append([]string{}, spec.ConflictColumns...), spec.KeepOnConflict...) {
				keep[c] = true
			}
			for i, c := range target.Columns {
				if !keep[c.Name] && t.ColumnIndex(c.Name) >= 0 {
					target.Rows[existing][i] = row[i]
				}
			}
			affected++
		default:
			return affected, fmt.Errorf("insert %s: duplicate key %v", spec.Table, key)
		}
	}
	return affected, nil
}

// conflict returns the index of an existing row sharing a unique key with row.
func (t *memTable) conflict(row []any, extra []string) (int, []string) {
	keys := t.unique
	if len(extra) > 0 {
		keys = append([][]string{extra}, keys...)
	}
	for _, key := range keys {
		for n, existing := range t.Rows {
			same := true
			for _, c := range key {
				i := t.ColumnIndex(c)
				if i < 0 || !equal(existing[i], row[i]) {
					same = false
					break
				}
			}
			if same {
				return n, key
			}
		}
	}
	return -1, nil
}

// NextID returns one more than the highest value ever seen in table.column.
func (d *DB) NextID(ctx context.Context, table, column string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return 0, fmt.Errorf("next id %s: %w", table, store.ErrTableNotFound)
	}
	i := t.ColumnIndex(column)
	if i < 0 {
		return 0, fmt.Errorf("next id %s: unknown column %s", table, column)
	}
	key := table + "." + column
	high := d.ids[key]
	for _, row := range t.Rows {
		if v, ok := row[i].(int64); ok && v > high {
			high = v
		}
	}
	d.ids[key] = high + 1
	return high + 1, nil
}

// Close is a no-op.
func (d *DB) Close() {}

// update sets columns on every row matching where.
func (d *DB) update(table string, where []store.Cond, set map[string]any) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return 0, store.ErrTableNotFound
	}
	n := 0
	for _, row := range t.Rows {
		match, err := d.matches(&t.Table, row, where)
		if err != nil {
			return n, err
		}
		if !match {
			continue
		}
		for c, v := range set {
			if i := t.ColumnIndex(c); i >= 0 {
				row[i] = store.Normalize(v)
			}
		}
		n++
	}
	return n, nil
}

// remove deletes every row matching where.
func (d *DB) remove(table string, where []store.Cond) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return store.ErrTableNotFound
	}
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		match, err := d.matches(&t.Table, row, where)
		if err != nil {
			return err
		}
		if !match {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	return nil
}

func copyTable(t *store.Table, rows [][]any) *store.Table {
	out := &store.Table{Name: t.Name, Columns: append([]store.Column(nil), t.Columns...)}
	for _, r := range rows {
		out.Rows = append(out.Rows, append([]any(nil), r...))
	}
	return out
}

func project(t *store.Table, columns []string) (*store.Table, error) {
	idx := make([]int, len(columns))
	out := &store.Table{Name: t.Name}
	for n, c := range columns {
		idx[n] = t.ColumnIndex(c)
		if idx[n] < 0 {
			return nil, fmt.Errorf("query %s: unknown column %s", t.Name, c)
		}
		out.Columns = append(out.Columns, t.Columns[idx[n]])
	}
	for _, r := range t.Rows {
		row := make([]any, len(idx))
		for n, i := range idx {
			row[n] = r[i]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func equal(a, b any) bool {
	a, b = store.Normalize(a), store.Normalize(b)
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	return a == b
}

func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	if a == nil && b != nil {
		return -1
	}
	if a != nil && b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
