// Package transfer copies rows from the operational source into the
// staging clones: adaptive batch reads, per-column type coercion, and
// sub-chunked transactional writes.
package transfer

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/schema"
)

// destDB is what the engine needs from the destination connection.
type destDB interface {
	database.PG
	database.TxBeginner
}

// sourceDB is what the engine needs from the operational store.
// *database.Source satisfies it; tests substitute fakes.
type sourceDB interface {
	Count(ctx context.Context, table string) (int64, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Metrics() *database.Metrics
}

// Engine moves one table at a time from source to staging. A failure on
// one table is recorded and does not stop the remaining tables.
type Engine struct {
	source sourceDB
	dest   destDB
	cfg    *config.Config
	log    *logger.Logger
	dryRun bool
}

// NewEngine creates a transfer engine. In dry-run mode the read and
// transform path is identical but nothing is written.
func NewEngine(source sourceDB, dest destDB, cfg *config.Config, log *logger.Logger, dryRun bool) *Engine {
	return &Engine{source: source, dest: dest, cfg: cfg, log: log, dryRun: dryRun}
}

// AdaptiveBatchSize picks the read-side page size for a paginated table:
// large tables get fewer, bigger pages while peak memory stays bounded at
// MaxReadBatch rows.
func AdaptiveBatchSize(rowCount, minBatch int64) int64 {
	size := rowCount / 10
	if size < minBatch {
		size = minBatch
	}
	if size > config.MaxReadBatch {
		size = config.MaxReadBatch
	}
	return size
}

// Run transfers every table in registry order, skipping tables absent from
// the requested set, and records one result per table.
func (e *Engine) Run(ctx context.Context, tables []string, rep *report.RunReport) {
	requested := make(map[string]bool, len(tables))
	for _, t := range tables {
		requested[t] = true
	}

	// Probe all sizes first so progress logs can show totals.
	sizes := make(map[string]int64)
	for _, table := range config.TableOrder {
		if !requested[table] {
			continue
		}
		n, err := e.source.Count(ctx, table)
		if err != nil {
			e.log.With().Str("table", table).Err(err).Logger().Warn("cannot count source table, skipping")
			continue
		}
		sizes[table] = n
	}

	for _, table := range config.TableOrder {
		if !requested[table] {
			continue
		}
		size, ok := sizes[table]
		if !ok {
			continue
		}
		if size == 0 {
			e.log.Infof("no data in %s", table)
			continue
		}

		res, err := e.transferTable(ctx, table, size)
		if errs.IsSchemaMismatch(err) {
			// Structurally unusable tables are skipped, never fatal to
			// the run.
			e.log.With().Str("table", table).Err(err).Logger().
				Warn("schema mismatch, table skipped")
			continue
		}
		rep.Add(res)

		if res.Success() {
			e.log.With().
				Str("table", table).
				Int64("processed", res.Processed).
				Int64("inserted", res.Inserted).
				Dur("duration", res.Duration).
				Logger().Info("table transferred")
		} else {
			e.log.With().Str("table", table).Str("error", res.Error).Logger().
				Error("table transfer failed")
		}

		if !e.dryRun {
			if err := report.WriteMigrationAudit(ctx, e.dest, e.cfg.Destination.Schema, res); err != nil {
				e.log.With().Str("table", table).Err(err).Logger().Warn("audit row not written")
			}
		}
	}

	if m := e.source.Metrics(); m != nil {
		e.log.Infof("transfer done, %d source queries issued", m.TotalQueries())
	} else {
		e.log.Info("transfer done")
	}
}

// transferTable copies one table. Errors are folded into the result and
// also returned so the caller can tell skippable mismatches from real
// failures.
func (e *Engine) transferTable(ctx context.Context, table string, size int64) (report.TableResult, error) {
	start := time.Now()
	res := report.TableResult{Phase: report.PhaseMigrate, Table: table}

	fail := func(err error) (report.TableResult, error) {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res, err
	}

	e.log.Infof("migrating %s (%d rows)", table, size)

	destCols, err := schema.Columns(ctx, e.dest, e.cfg.Destination.Schema, table)
	if err != nil {
		return fail(err)
	}
	srcCols, err := e.source.Columns(ctx, table)
	if err != nil {
		return fail(err)
	}

	common := schema.CommonColumns(destCols, srcCols)
	if len(common) == 0 {
		return fail(errs.Newf(errs.ErrKindSchemaMismatch,
			"no common columns between source and destination for %s", table))
	}
	if len(common) < len(destCols) {
		e.log.Infof("table %s: %d destination columns missing on source",
			table, len(destCols)-len(common))
	}

	if size <= int64(e.cfg.BatchSize) {
		err = e.transferSinglePass(ctx, table, common, &res)
	} else {
		err = e.transferPaginated(ctx, table, size, common, &res)
	}
	if err != nil {
		return fail(err)
	}

	if !e.dryRun {
		staged := schema.Qualify(e.cfg.Destination.StagingSchema, table)
		if err := e.dest.QueryRow(ctx, "SELECT COUNT(*) FROM "+staged).Scan(&res.FinalCount); err != nil {
			return fail(errs.Wrap(errs.ErrKindQueryFailed, "final count failed", err))
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

// transferSinglePass handles tables that fit in one read.
func (e *Engine) transferSinglePass(ctx context.Context, table string, common []schema.Column, res *report.TableResult) error {
	rows, err := e.readPage(ctx, table, common, -1, 0)
	if err != nil {
		return err
	}

	batch := e.transcode(table, common, rows)
	res.Processed += int64(len(batch))

	if e.dryRun {
		e.log.Infof("dry-run: would insert %d rows into %s", len(batch), table)
		return nil
	}
	return e.writeChunked(ctx, table, common, batch, res)
}

// transferPaginated walks a large table with the adaptive page size,
// writing each page before reading the next so at most one page is in
// memory.
func (e *Engine) transferPaginated(ctx context.Context, table string, size int64, common []schema.Column, res *report.TableResult) error {
	pageSize := AdaptiveBatchSize(size, int64(e.cfg.BatchSize))

	for offset := int64(0); offset < size; offset += pageSize {
		rows, err := e.readPage(ctx, table, common, pageSize, offset)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		batch := e.transcode(table, common, rows)
		res.Processed += int64(len(batch))

		if e.dryRun {
			e.log.Infof("dry-run: would insert %d rows from batch", len(batch))
		} else if err := e.writeChunked(ctx, table, common, batch, res); err != nil {
			return err
		}

		e.log.Debugf("processed %d/%d rows from %s", res.Processed, size, table)
	}
	return nil
}

// readPage reads up to limit rows (all rows when limit < 0) as positional
// value slices ordered like common.
func (e *Engine) readPage(ctx context.Context, table string, common []schema.Column, limit, offset int64) ([][]any, error) {
	cols := ""
	for i, c := range common {
		if i > 0 {
			cols += ", "
		}
		cols += c.Name
	}

	var (
		rows *sql.Rows
		err  error
	)
	if limit < 0 {
		rows, err = e.source.Query(ctx, "SELECT "+cols+" FROM "+table)
	} else {
		rows, err = e.source.Query(ctx, "SELECT "+cols+" FROM "+table+" LIMIT ? OFFSET ?", limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page [][]any
	for rows.Next() {
		values := make([]any, len(common))
		ptrs := make([]any, len(common))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "scan source row", err)
		}
		page = append(page, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "iterate source rows", err)
	}
	return page, nil
}

// transcode coerces every cell to its destination type and applies the
// person-name normalization on the apprentice table. Conversion failures
// are soft: logged, original value kept.
func (e *Engine) transcode(table string, common []schema.Column, rows [][]any) [][]any {
	firstName, lastName := -1, -1
	if table == config.NameNormalizedTable {
		for i, c := range common {
			switch c.Name {
			case "first_name":
				firstName = i
			case "last_name":
				lastName = i
			}
		}
	}

	for _, row := range rows {
		for i, c := range common {
			converted, err := ConvertValue(row[i], c.Type)
			if err != nil {
				e.log.With().Str("table", table).Str("column", c.Name).Err(err).Logger().
					Warn("value kept unconverted")
				continue
			}
			row[i] = converted
		}
		if firstName >= 0 {
			if s, ok := row[firstName].(string); ok && s != "" {
				row[firstName] = NormalizeFirstName(s)
			}
		}
		if lastName >= 0 {
			if s, ok := row[lastName].(string); ok && s != "" {
				row[lastName] = NormalizeLastName(s)
			}
		}
	}
	return rows
}

// writeChunked writes a transcoded batch into the staging clone,
// sub-chunked to the configured base batch size, each chunk in its own
// transaction. Read and write batch sizes are independent knobs.
func (e *Engine) writeChunked(ctx context.Context, table string, common []schema.Column, batch [][]any, res *report.TableResult) error {
	colNames := make([]string, len(common))
	for i, c := range common {
		colNames[i] = c.Name
	}
	ident := pgx.Identifier{e.cfg.Destination.StagingSchema, table}

	for start := 0; start < len(batch); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		err := database.WithTransaction(ctx, e.dest, func(tx pgx.Tx) error {
			n, err := tx.CopyFrom(ctx, ident, colNames, pgx.CopyFromRows(chunk))
			if err != nil {
				return err
			}
			res.Inserted += n
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
