package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/willibrandon/tenantmove/internal/store"
)

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ident(n)
	}
	return strings.Join(quoted, ", ")
}

// queryBuilder renders structured selects to parameterised SQL, numbering
// placeholders across nested sub-selects.
type queryBuilder struct {
	args []any
}

func (b *queryBuilder) param(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) render(sel store.Select) (string, error) {
	if sel.Table == "" {
		return "", fmt.Errorf("select without table")
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(sel.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(identList(sel.Columns))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(ident(sel.Table))

	for i, c := range sel.Where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		switch c.Op {
		case store.OpEq:
			if c.Value == nil {
				fmt.Fprintf(&sb, "%s IS NULL", ident(c.Column))
			} else {
				fmt.Fprintf(&sb, "%s = %s", ident(c.Column), b.param(c.Value))
			}
		case store.OpPrefix:
			fmt.Fprintf(&sb, "starts_with(%s, %s)", ident(c.Column), b.param(c.Value))
		case store.OpIn:
			if c.Sub == nil {
				return "", fmt.Errorf("IN condition on %s without sub-select", c.Column)
			}
			sub, err := b.render(*c.Sub)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%s IN (%s)", ident(c.Column), sub)
		default:
			return "", fmt.Errorf("unknown operator %d", c.Op)
		}
	}

	if len(sel.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(identList(sel.OrderBy))
	}
	if sel.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", b.param(sel.Limit))
	}
	if sel.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %s", b.param(sel.Offset))
	}
	return sb.String(), nil
}

// Query runs sel and returns the rows as a self-describing table.
func (d *DB) Query(ctx context.Context, sel store.Select) (*store.Table, error) {
	var b queryBuilder
	sql, err := b.render(sel)
	if err != nil {
		return nil, err
	}
	if d.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()
	}

	rows, err := d.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, translate(sel.Table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]store.Column, len(fields))
	for i, f := range fields {
		columns[i] = store.Column{Name: f.Name, Kind: kindOfOID(f.DataTypeOID)}
	}
	t := store.NewTable(sel.Table, columns...)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", sel.Table, err)
		}
		for i, v := range values {
			values[i] = convertValue(v)
		}
		if err := t.Append(values...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, translate(sel.Table, err)
	}
	return t, nil
}

// kindOfOID maps a column type to a table kind. Unknown types are text.
func kindOfOID(oid uint32) store.Kind {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return store.KindInt
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return store.KindFloat
	case pgtype.BoolOID:
		return store.KindBool
	case pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.DateOID:
		return store.KindTime
	case pgtype.ByteaOID:
		return store.KindBytes
	default:
		return store.KindText
	}
}

// convertValue turns a decoded pgx value into one of the table value types.
func convertValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(data)
	default:
		return store.Normalize(v)
	}
}
