// Package store defines the collaborator contracts the migration engine
// consumes: a relational store addressable per region and a blob store
// addressable per tenant and module.
package store

import (
	"fmt"
	"time"
)

// Kind is the value kind of a table column.
type Kind string

const (
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindBool  Kind = "bool"
	KindText  Kind = "text"
	KindTime  Kind = "time"
	KindBytes Kind = "bytes"
)

// Column describes one column of a tabular buffer.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Table is a generic tabular buffer filled from a relational store.
// Row values are nil, int64, float64, bool, string, time.Time or []byte.
type Table struct {
	Name    string   `json:"table"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(name string, columns ...Column) *Table {
	return &Table{Name: name, Columns: columns}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Append adds a row. Values are normalised to the column kinds.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("table %s: row has %d values, want %d", t.Name, len(values), len(t.Columns))
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = Normalize(v)
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Extend appends all rows of other, which must have the same columns.
func (t *Table) Extend(other *Table) {
	if len(t.Columns) == 0 {
		t.Columns = other.Columns
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// Row returns a view over row i.
func (t *Table) Row(i int) Row {
	return Row{table: t, values: t.Rows[i]}
}

// Filter keeps only the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) {
	kept := t.Rows[:0]
	for _, values := range t.Rows {
		if keep(Row{table: t, values: values}) {
			kept = append(kept, values)
		}
	}
	t.Rows = kept
}

// Row is a mutable view over one table row.
type Row struct {
	table  *Table
	values []any
}

// Has reports whether the row's table has the named column.
func (r Row) Has(column string) bool {
	return r.table.ColumnIndex(column) >= 0
}

// Get returns the value of the named column, or nil if absent.
func (r Row) Get(column string) any {
	i := r.table.ColumnIndex(column)
	if i < 0 {
		return nil
	}
	return r.values[i]
}

// Set replaces the value of the named column. Unknown columns are ignored.
func (r Row) Set(column string, value any) {
	i := r.table.ColumnIndex(column)
	if i < 0 {
		return
	}
	r.values[i] = Normalize(value)
}

// Values returns the underlying row slice.
func (r Row) Values() []any {
	return r.values
}

// Normalize widens integer and float kinds and strips the zone from times.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return StripZone(x)
	default:
		return v
	}
}

// StripZone keeps the wall clock of t and drops its location.
func StripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// KindOf infers a column kind from a normalised value.
func KindOf(v any) Kind {
	switch v.(type) {
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	case []byte:
		return KindBytes
	default:
		return KindText
	}
}
