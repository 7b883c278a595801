// Package syncer merges the cleaned staging tables into production:
// guarded upserts, absence-driven deletion, and the SIRET-keyed company
// path that defers descriptive fields to external enrichment.
package syncer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/schema"
)

// DB is what the sync engine needs from the destination connection.
type DB interface {
	database.PG
	database.TxBeginner
}

// Engine synchronizes staging into production one table at a time. A
// failed table rolls back alone; siblings still run.
type Engine struct {
	db         DB
	prodSchema string
	tempSchema string
	log        *logger.Logger
	dryRun     bool
}

// NewEngine creates a sync engine bound to the configured schemas.
func NewEngine(db DB, cfg *config.Config, log *logger.Logger, dryRun bool) *Engine {
	return &Engine{
		db:         db,
		prodSchema: cfg.Destination.Schema,
		tempSchema: cfg.Destination.StagingSchema,
		log:        log,
		dryRun:     dryRun,
	}
}

// Run synchronizes every requested table in registry order. The company
// table goes through its SIRET path first so dependent tables see
// production-valid foreign keys, and never through the general upsert.
// Protected tables are upserted like any other; protection only exempts
// them from delete-if-absent.
func (e *Engine) Run(ctx context.Context, tables []string, rep *report.RunReport) {
	if e.dryRun {
		e.log.Info("dry-run: sync phase skipped, nothing would be read without writing")
		return
	}

	requested := make(map[string]bool, len(tables))
	for _, t := range tables {
		requested[t] = true
	}

	if requested["company"] {
		res := e.syncCompanySirets(ctx)
		rep.Add(res)
		e.writeAudit(ctx, res)
	}

	var synced []string
	for _, table := range config.TableOrder {
		if !requested[table] || table == "company" {
			continue
		}
		key := config.ConflictKeys[table]
		if key == "" {
			e.log.Warnf("no conflict key declared for %s, cannot synchronize", table)
			continue
		}

		res := e.syncTable(ctx, table, key)
		rep.Add(res)
		e.writeAudit(ctx, res)

		if res.Success() {
			synced = append(synced, table)
			e.log.With().
				Str("table", table).
				Int64("inserted", res.Inserted).
				Int64("updated", res.Updated).
				Int64("deleted", res.Deleted).
				Dur("duration", res.Duration).
				Logger().Info("table synchronized")
		} else {
			e.log.With().Str("table", table).Str("error", res.Error).Logger().
				Error("table sync failed")
		}
	}

	e.analyzeTables(ctx, synced)
}

// syncTable merges one table inside a single transaction. Every error is
// folded into the result; the transaction rolls back as a whole.
func (e *Engine) syncTable(ctx context.Context, table, key string) report.TableResult {
	start := time.Now()
	res := report.TableResult{Phase: report.PhaseSync, Table: table}

	e.log.Infof("synchronizing %s", table)

	cols, err := schema.Columns(ctx, e.db, e.prodSchema, table)
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	desc := schema.NewDescriptor(table, cols)

	if desc.HasUpdatedAt {
		e.ensureUpdatedAtTrigger(ctx, table)
	}

	prod := schema.Qualify(e.prodSchema, table)
	err = database.WithTransaction(ctx, e.db, func(tx pgx.Tx) error {
		var before int64
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+prod).Scan(&before); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, buildUpsertSQL(e.prodSchema, e.tempSchema, desc))
		if err != nil {
			return err
		}
		affected := tag.RowsAffected()

		var after int64
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+prod).Scan(&after); err != nil {
			return err
		}
		res.Inserted, res.Updated = deriveCounts(before, after, affected)

		// Protected reference tables keep rows that staging no longer
		// carries; absence never deletes them.
		if !desc.Protected {
			tag, err = tx.Exec(ctx, buildDeleteAbsentSQL(e.prodSchema, e.tempSchema, table, key))
			if err != nil {
				return err
			}
			res.Deleted = tag.RowsAffected()
		}

		return tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+prod).Scan(&res.FinalCount)
	})
	if err != nil {
		res.Inserted, res.Updated, res.Deleted, res.FinalCount = 0, 0, 0, 0
		res.Error = err.Error()
	}

	res.Duration = time.Since(start)
	return res
}

// writeAudit records one sync result, best-effort.
func (e *Engine) writeAudit(ctx context.Context, res report.TableResult) {
	if err := report.WriteSyncAudit(ctx, e.db, e.prodSchema, res); err != nil {
		e.log.With().Str("table", res.Table).Err(err).Logger().Warn("audit row not written")
	}
}

// analyzeTables refreshes planner statistics on the tables a sync just
// rewrote. Failures only warn.
func (e *Engine) analyzeTables(ctx context.Context, tables []string) {
	for _, table := range tables {
		if _, err := e.db.Exec(ctx, "ANALYZE "+schema.Qualify(e.prodSchema, table)); err != nil {
			e.log.With().Str("table", table).Err(err).Logger().Warn("analyze failed")
		} else {
			e.log.Debugf("analyzed %s", table)
		}
	}
}
