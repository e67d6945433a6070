package store

import (
	"context"
	"errors"
	"io"
	"path"
	"strconv"
)

var (
	// ErrTableNotFound is returned when a queried table does not exist.
	ErrTableNotFound = errors.New("table does not exist")
	// ErrBlobNotFound is returned when a blob path has no object.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrQuotaExceeded is returned by a QuotaController that rejects a charge.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Op is a condition operator.
type Op int

const (
	OpEq     Op = iota // column = value
	OpPrefix           // column LIKE value || '%'
	OpIn               // column IN (sub-select)
)

// Cond is one conjunct of a select's WHERE clause.
type Cond struct {
	Column string
	Op     Op
	Value  any
	Sub    *Select
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEq, Value: value}
}

// Prefix matches rows whose text column starts with prefix.
func Prefix(column, prefix string) Cond {
	return Cond{Column: column, Op: OpPrefix, Value: prefix}
}

// InSelect matches rows whose column is among the first column of sub.
func InSelect(column string, sub Select) Cond {
	return Cond{Column: column, Op: OpIn, Sub: &sub}
}

// Select is a structured, parameterised select. Columns empty means all.
// Limit zero means no limit.
type Select struct {
	Table   string
	Columns []string
	Where   []Cond
	OrderBy []string
	Limit   int
	Offset  int
}

// Page returns a copy of s limited to one page.
func (s Select) Page(limit, offset int) Select {
	s.Limit = limit
	s.Offset = offset
	return s
}

// InsertMethod controls how restored rows are written.
type InsertMethod int

const (
	// InsertNone skips the table entirely.
	InsertNone InsertMethod = iota
	// InsertPlain fails on any conflict.
	InsertPlain
	// InsertIgnore skips conflicting rows.
	InsertIgnore
	// InsertUpsert updates conflicting rows.
	InsertUpsert
)

func (m InsertMethod) String() string {
	switch m {
	case InsertNone:
		return "none"
	case InsertPlain:
		return "insert"
	case InsertIgnore:
		return "insert_ignore"
	case InsertUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// InsertSpec describes a bulk write into one table.
type InsertSpec struct {
	Table           string
	Method          InsertMethod
	ConflictColumns []string
	// KeepOnConflict lists columns an upsert must not overwrite.
	KeepOnConflict []string
}

// DB is a relational store for one region.
type DB interface {
	// Query runs a select and returns the matching rows.
	Query(ctx context.Context, sel Select) (*Table, error)
	// Insert writes all rows of t and returns the number of rows affected.
	Insert(ctx context.Context, spec InsertSpec, t *Table) (int64, error)
	// NextID allocates a fresh value for an integer identity column.
	NextID(ctx context.Context, table, column string) (int64, error)
	Close()
}

// Location addresses the blob space of one tenant module.
type Location struct {
	Tenant int64
	Module string
	Domain string
}

// Prefix returns the object-key prefix of the location.
func (l Location) Prefix() string {
	p := path.Join(formatTenant(l.Tenant), l.Module)
	if l.Domain != "" {
		p = path.Join(p, l.Domain)
	}
	return p + "/"
}

func formatTenant(id int64) string {
	return strconv.FormatInt(id, 10)
}

// QuotaController charges stored bytes against a tenant's quota.
type QuotaController interface {
	Charge(ctx context.Context, loc Location, size int64) error
}

// BlobStore is the blob store of one region.
type BlobStore interface {
	// List returns paths relative to loc that start with prefix.
	List(ctx context.Context, loc Location, prefix string, recursive bool) ([]string, error)
	Open(ctx context.Context, loc Location, p string) (io.ReadCloser, error)
	// Save stores size bytes from r. A size of -1 means unknown.
	Save(ctx context.Context, loc Location, p string, r io.Reader, size int64) error
	// DetachQuota removes and returns the current quota controller.
	DetachQuota() QuotaController
	AttachQuota(qc QuotaController)
}
