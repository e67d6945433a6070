package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/tenantmove/internal/store"
)

// renderInsert builds the single-row insert statement for spec over columns.
func renderInsert(spec store.InsertSpec, columns []store.Column) (string, error) {
	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s)",
		ident(spec.Table), identList(names), strings.Join(placeholders, ", "))

	switch spec.Method {
	case store.InsertPlain:
	case store.InsertIgnore:
		sb.WriteString(" ON CONFLICT DO NOTHING")
	case store.InsertUpsert:
		if len(spec.ConflictColumns) == 0 {
			return "", fmt.Errorf("upsert into %s without conflict columns", spec.Table)
		}
		skip := make(map[string]bool)
		for _, c := range spec.ConflictColumns {
			skip[c] = true
		}
		for _, c := range spec.KeepOnConflict {
			skip[c] = true
		}
		var sets []string
		for _, n := range names {
			if !skip[n] {
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(n), ident(n)))
			}
		}
		fmt.Fprintf(&sb, " ON CONFLICT (%s)", identList(spec.ConflictColumns))
		if len(sets) == 0 {
			sb.WriteString(" DO NOTHING")
		} else {
			sb.WriteString(" DO UPDATE SET ")
			sb.WriteString(strings.Join(sets, ", "))
		}
	default:
		return "", fmt.Errorf("insert into %s with method %s", spec.Table, spec.Method)
	}
	return sb.String(), nil
}

// Insert writes every row of t in one transaction, queued as a batch.
func (d *DB) Insert(ctx context.Context, spec store.InsertSpec, t *store.Table) (int64, error) {
	if t.Len() == 0 {
		return 0, nil
	}
	sql, err := renderInsert(spec, t.Columns)
	if err != nil {
		return 0, err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", spec.Table, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range t.Rows {
		batch.Queue(sql, row...)
	}
	results := tx.SendBatch(ctx, batch)

	var affected int64
	for i := range t.Rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert row %d into %s: %w", i, spec.Table, translate(spec.Table, err))
		}
		affected += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.Table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", spec.Table, err)
	}
	return affected, nil
}

// NextID allocates the next value of an integer identity column. The
// current maximum is read under an advisory lock keyed by the table, and
// allocations made by this process but not yet written are skipped.
func (d *DB) NextID(ctx context.Context, table, column string) (int64, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", table); err != nil {
		return 0, fmt.Errorf("lock %s: %w", table, err)
	}

	var next int64
	sql := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) + 1 FROM %s", ident(column), ident(table))
	if err := tx.QueryRow(ctx, sql).Scan(&next); err != nil {
		return 0, translate(table, err)
	}

	key := table + "." + column
	d.mu.Lock()
	if hw := d.ids[key]; next <= hw {
		next = hw + 1
	}
	d.ids[key] = next
	d.mu.Unlock()

	return next, tx.Commit(ctx)
}
