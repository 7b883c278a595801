package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/schema"
)

// The company table never goes through the general upsert: its descriptive
// fields (name, classification codes, workforce size) are owned by the
// external enrichment step, and the raw source cannot supply them. Sync
// only introduces new SIRETs, advances updated_at when the source is
// strictly newer, and repoints staging foreign keys to production ids so
// the dependent tables merge against real keys.

// syncCompanySirets runs the company path inside one transaction and
// returns its result.
func (e *Engine) syncCompanySirets(ctx context.Context) report.TableResult {
	start := time.Now()
	res := report.TableResult{Phase: report.PhaseSync, Table: "company"}

	e.log.Info("synchronizing company SIRETs")

	e.ensureCompanyIndexes(ctx)
	e.ensureUpdatedAtTrigger(ctx, "company")

	prod := schema.Qualify(e.prodSchema, "company")
	temp := schema.Qualify(e.tempSchema, "company")
	mapping := e.tempSchema + ".company_id_mapping"

	err := database.WithTransaction(ctx, e.db, func(tx pgx.Tx) error {
		// New SIRETs arrive with the bare key and discriminator only;
		// enrichment fills in the rest later.
		tag, err := tx.Exec(ctx, `
			INSERT INTO `+prod+` (siret, discr)
			SELECT tc.siret, tc.discr
			FROM `+temp+` tc
			WHERE tc.siret IS NOT NULL
			  AND tc.siret != ''
			  AND NOT EXISTS (
			      SELECT 1 FROM `+prod+` sc WHERE sc.siret = tc.siret
			  )`)
		if err != nil {
			return err
		}
		res.Inserted = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE `+prod+` sc
			SET updated_at = tc.updated_at
			FROM `+temp+` tc
			WHERE sc.siret = tc.siret
			  AND tc.siret IS NOT NULL
			  AND tc.siret != ''
			  AND (sc.updated_at IS NULL OR tc.updated_at > sc.updated_at)`)
		if err != nil {
			return err
		}
		res.Updated = tag.RowsAffected()

		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+mapping); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			CREATE TABLE `+mapping+` AS
			SELECT tc.id AS temp_id, sc.id AS staging_id
			FROM `+temp+` tc
			JOIN `+prod+` sc ON tc.siret = sc.siret
			WHERE tc.siret IS NOT NULL AND tc.siret != ''`)
		if err != nil {
			return err
		}

		var mappings int64
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+mapping).Scan(&mappings); err != nil {
			return err
		}
		e.log.Infof("company id map built: %d entries", mappings)

		for _, ref := range config.CompanyReferences {
			if err := schema.ValidateIdent(ref.Column); err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, fmt.Sprintf(`
				UPDATE %s t
				SET %s = m.staging_id
				FROM %s m
				WHERE t.%s = m.temp_id
				  AND m.temp_id != m.staging_id`,
				schema.Qualify(e.tempSchema, ref.Table), ref.Column, mapping, ref.Column))
			if err != nil {
				return err
			}
			e.log.Infof("%d %s.%s references repointed to production ids",
				tag.RowsAffected(), ref.Table, ref.Column)
		}

		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+mapping); err != nil {
			return err
		}
		return tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+prod).Scan(&res.FinalCount)
	})
	if err != nil {
		res.Inserted, res.Updated, res.FinalCount = 0, 0, 0
		res.Error = err.Error()
		e.log.With().Err(err).Logger().Error("company SIRET sync failed")
	} else {
		e.log.Infof("company SIRET sync done: %d inserts, %d timestamp advances",
			res.Inserted, res.Updated)
	}

	res.Duration = time.Since(start)
	return res
}

// ensureCompanyIndexes creates the SIRET and foreign-key indexes on both
// schemas when missing. Best-effort: a failure costs speed, not
// correctness.
func (e *Engine) ensureCompanyIndexes(ctx context.Context) {
	for _, schemaName := range []string{e.prodSchema, e.tempSchema} {
		for _, spec := range config.CompanyIndexes {
			name := fmt.Sprintf("idx_%s_%s_%s", schemaName, spec.Table, spec.Column)
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				name, schema.Qualify(schemaName, spec.Table), spec.Column)
			if _, err := e.db.Exec(ctx, stmt); err != nil {
				e.log.With().Str("index", name).Err(err).Logger().Warn("cannot create index")
			}
		}
	}
}

// ensureUpdatedAtTrigger installs a BEFORE UPDATE trigger bumping
// updated_at on the production table, creating the function and trigger
// only when absent. An operator's manual correction then carries a newer
// timestamp than the next sync cycle, and the upsert guard leaves it
// alone. Best-effort.
func (e *Engine) ensureUpdatedAtTrigger(ctx context.Context, table string) {
	fnName := table + "_touch_updated_at_fn"
	trgName := table + "_touch_updated_at_trg"

	err := database.WithTransaction(ctx, e.db, func(tx pgx.Tx) error {
		var fnExists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_proc p
				JOIN pg_namespace n ON n.oid = p.pronamespace
				WHERE p.proname = $1 AND n.nspname = $2
			)`, fnName, e.prodSchema).Scan(&fnExists)
		if err != nil {
			return err
		}
		if !fnExists {
			_, err = tx.Exec(ctx, fmt.Sprintf(`
				CREATE FUNCTION %s.%s()
				RETURNS trigger AS $func$
				BEGIN
					NEW.updated_at = NOW();
					RETURN NEW;
				END;
				$func$ LANGUAGE plpgsql`, e.prodSchema, fnName))
			if err != nil {
				return err
			}
		}

		var trgExists bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_trigger t
				JOIN pg_class c ON t.tgrelid = c.oid
				JOIN pg_namespace n ON n.oid = c.relnamespace
				WHERE t.tgname = $1 AND c.relname = $2 AND n.nspname = $3
			)`, trgName, table, e.prodSchema).Scan(&trgExists)
		if err != nil {
			return err
		}
		if !trgExists {
			_, err = tx.Exec(ctx, fmt.Sprintf(`
				CREATE TRIGGER %s
				BEFORE UPDATE ON %s
				FOR EACH ROW EXECUTE FUNCTION %s.%s()`,
				trgName, schema.Qualify(e.prodSchema, table), e.prodSchema, fnName))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.log.With().Str("table", table).Err(err).Logger().
			Warn("cannot ensure updated_at trigger")
	}
}
