package syncer

import (
	"fmt"
	"strings"

	"github.com/mchallet/stagesync/internal/schema"
)

// buildUpsertSQL builds the single-statement merge for one table: insert
// every staging row, and on key conflict update the non-key columns only
// when the guard accepts the incoming row. Tables whose only column is the
// key degrade to DO NOTHING.
func buildUpsertSQL(prodSchema, tempSchema string, d schema.TableDescriptor) string {
	prod := schema.Qualify(prodSchema, d.Name)
	temp := schema.Qualify(tempSchema, d.Name)

	cols := d.ColumnNames()
	for _, c := range cols {
		if err := schema.ValidateIdent(c); err != nil {
			panic(err)
		}
	}
	columns := strings.Join(cols, ", ")

	nonKey := d.NonKeyColumns()
	if len(nonKey) == 0 {
		return fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
			prod, columns, columns, temp, d.ConflictKey)
	}

	sets := make([]string, len(nonKey))
	for i, c := range nonKey {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}

	var guard string
	if d.HasUpdatedAt {
		// Strict last-writer-wins: equal timestamps reject the incoming
		// write, so a manual edit at the same instant survives.
		guard = fmt.Sprintf("%s.updated_at < excluded.updated_at", prod)
	} else {
		guard = buildDiffGuard(prod, nonKey)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s FROM %s\nON CONFLICT (%s) DO UPDATE SET %s\nWHERE %s",
		prod, columns, columns, temp, d.ConflictKey, strings.Join(sets, ", "), guard)
}

// buildDiffGuard accepts the incoming row when any non-key column differs,
// NULL-aware. Without a timestamp to arbitrate, "changed at all" is the
// only meaningful update condition.
func buildDiffGuard(prod string, nonKey []string) string {
	terms := make([]string, len(nonKey))
	for i, c := range nonKey {
		terms[i] = fmt.Sprintf("%s.%s IS DISTINCT FROM excluded.%s", prod, c, c)
	}
	return strings.Join(terms, " OR ")
}

// buildDeleteAbsentSQL removes production rows whose key no longer exists
// in staging. Callers must not pass protected tables.
func buildDeleteAbsentSQL(prodSchema, tempSchema, table, key string) string {
	if err := schema.ValidateIdent(key); err != nil {
		panic(err)
	}
	return fmt.Sprintf(
		"DELETE FROM %s WHERE %s NOT IN (SELECT %s FROM %s)",
		schema.Qualify(prodSchema, table), key, key, schema.Qualify(tempSchema, table))
}

// deriveCounts splits the upsert's affected-row count into inserts and
// updates. ON CONFLICT reports one affected row per insert or accepted
// update, so inserts are the table growth and updates the remainder,
// clamped at zero against concurrent deletions skewing the counts.
func deriveCounts(before, after, affected int64) (inserted, updated int64) {
	inserted = after - before
	updated = affected - inserted
	if updated < 0 {
		updated = 0
	}
	return inserted, updated
}
