package report

import (
	"context"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
	"github.com/mchallet/stagesync/internal/schema"
)

// Audit rows are append-only and one per table per phase. Writers take the
// bare PG surface so they can run inside the same transaction as the
// phase's work when the caller wants that.

// WriteMigrationAudit persists a transfer-phase result.
func WriteMigrationAudit(ctx context.Context, db database.PG, prodSchema string, res TableResult) error {
	table := schema.Qualify(prodSchema, config.MigrationAuditTable)
	q := `INSERT INTO ` + table + ` (
		migration_name, table_name, processed, inserted, skipped,
		final_count, duration_seconds, success, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var errMsg *string
	if res.Error != "" {
		errMsg = &res.Error
	}
	_, err := db.Exec(ctx, q,
		res.Phase, res.Table, res.Processed, res.Inserted,
		res.Processed-res.Inserted, res.FinalCount,
		res.Duration.Seconds(), res.Success(), errMsg)
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "cannot write migration audit row", err)
	}
	return nil
}

// WriteSyncAudit persists a sync-phase result.
func WriteSyncAudit(ctx context.Context, db database.PG, prodSchema string, res TableResult) error {
	table := schema.Qualify(prodSchema, config.SyncAuditTable)
	q := `INSERT INTO ` + table + ` (
		migration_name, table_name, inserted, updates, deletes,
		final_count, duration_seconds, success, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var errMsg *string
	if res.Error != "" {
		errMsg = &res.Error
	}
	_, err := db.Exec(ctx, q,
		res.Phase, res.Table, res.Inserted, res.Updated, res.Deleted,
		res.FinalCount, res.Duration.Seconds(), res.Success(), errMsg)
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "cannot write sync audit row", err)
	}
	return nil
}

// WriteRunLog persists one run-level row carrying the JSON stats blob for
// a phase.
func WriteRunLog(ctx context.Context, db database.PG, prodSchema, phase string, stats []byte, success bool) error {
	table := schema.Qualify(prodSchema, config.RunLogTable)
	q := `INSERT INTO ` + table + ` (stats, success, migration_type) VALUES ($1, $2, $3)`
	if _, err := db.Exec(ctx, q, string(stats), success, phase); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "cannot write run log row", err)
	}
	return nil
}
