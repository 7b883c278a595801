// Package schema reads column layouts from both backends and turns them
// into the per-table descriptors the transfer and sync engines work from.
package schema

import (
	"context"

	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
)

// Column is one destination column: its name and declared type.
type Column struct {
	Name string
	Type string
}

// Columns introspects a destination table and returns its columns in
// ordinal position order. A table with zero columns fails with a schema
// mismatch: the destination table must exist before a run starts.
func Columns(ctx context.Context, db database.PG, schemaName, table string) ([]Column, error) {
	const q = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := db.Query(ctx, q, schemaName, table)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "cannot introspect "+table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "scan column info", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "iterate columns", err)
	}

	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindSchemaMismatch,
			"no columns in %s.%s", schemaName, table)
	}
	return cols, nil
}

// HasColumn reports whether the destination table carries a column, using
// the same information_schema source as Columns.
func HasColumn(ctx context.Context, db database.PG, schemaName, table, column string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 AND column_name = $3
		)`
	var exists bool
	if err := db.QueryRow(ctx, q, schemaName, table, column).Scan(&exists); err != nil {
		return false, errs.Wrap(errs.ErrKindQueryFailed, "column existence check failed", err)
	}
	return exists, nil
}
