// Package mapper holds the old-id to new-id substitutions applied while
// restoring an archive into another tenant.
package mapper

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnmapped is returned when a committed column has no entry for a value.
	ErrUnmapped = errors.New("unmapped reference")
	// ErrNotCommitted is returned when resolving through an uncommitted column.
	ErrNotCommitted = errors.New("column mapping not committed")
	// ErrCommitted is returned when adding to a committed column.
	ErrCommitted = errors.New("column mapping already committed")
)

type column struct {
	table string
	name  string
}

// Mapper is a commit-once table of (table, column, old value) -> new value.
// It has a single writer and is not safe for concurrent use.
type Mapper struct {
	entries   map[column]map[string]any
	committed map[column]bool
}

// New returns an empty Mapper.
func New() *Mapper {
	return &Mapper{
		entries:   make(map[column]map[string]any),
		committed: make(map[column]bool),
	}
}

// Add records old -> new for table.column.
func (m *Mapper) Add(table, col string, old, new any) error {
	c := column{table, col}
	if m.committed[c] {
		return fmt.Errorf("add %s.%s: %w", table, col, ErrCommitted)
	}
	values, ok := m.entries[c]
	if !ok {
		values = make(map[string]any)
		m.entries[c] = values
	}
	values[key(old)] = new
	return nil
}

// Commit freezes table.column. Committing an empty column is allowed.
func (m *Mapper) Commit(table, col string) {
	c := column{table, col}
	if _, ok := m.entries[c]; !ok {
		m.entries[c] = make(map[string]any)
	}
	m.committed[c] = true
}

// Committed reports whether table.column has been committed.
func (m *Mapper) Committed(table, col string) bool {
	return m.committed[column{table, col}]
}

// Resolve returns the new value recorded for old.
func (m *Mapper) Resolve(table, col string, old any) (any, error) {
	c := column{table, col}
	if !m.committed[c] {
		return nil, fmt.Errorf("resolve %s.%s: %w", table, col, ErrNotCommitted)
	}
	v, ok := m.entries[c][key(old)]
	if !ok {
		return nil, fmt.Errorf("resolve %s.%s=%v: %w", table, col, old, ErrUnmapped)
	}
	return v, nil
}

// Len returns the number of entries recorded for table.column.
func (m *Mapper) Len(table, col string) int {
	return len(m.entries[column{table, col}])
}

// key normalises integer kinds so that int32(5) and int64(5) collide.
func key(v any) string {
	switch x := v.(type) {
	case int:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int16:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i" + strconv.FormatInt(x, 10)
	case uint32:
		return "i" + strconv.FormatInt(int64(x), 10)
	case string:
		return "s" + x
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
