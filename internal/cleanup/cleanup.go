// Package cleanup runs the ordered data-quality passes against the
// staging schema: transient-row removal, invalid-fact removal, foreign-key
// repointing, duplicate-natural-key merging, and reference-driven pruning.
// Every pass is idempotent and independently transacted; one pass failing
// never stops the next.
package cleanup

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

// DB is what the reconciler needs from the destination connection.
type DB interface {
	database.PG
	database.TxBeginner
}

// Task is one independently-failing cleanup unit. Run returns the number
// of rows it affected.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Reconciler owns the ordered task list for one run.
type Reconciler struct {
	db         DB
	prodSchema string
	tempSchema string
	log        *logger.Logger
}

// NewReconciler builds a reconciler for the given schemas.
func NewReconciler(db DB, prodSchema, tempSchema string, log *logger.Logger) *Reconciler {
	return &Reconciler{db: db, prodSchema: prodSchema, tempSchema: tempSchema, log: log}
}

// Tasks returns the static, ordered task registry.
func (r *Reconciler) Tasks() []Task {
	return []Task{
		{Name: "drop_transient_rows", Run: r.dropTransientRows},
		{Name: "clean_registrations", Run: r.cleanRegistrations},
		{Name: "repoint_apprentice_cities", Run: r.repointApprenticeCities},
		{Name: "merge_duplicate_companies", Run: r.mergeDuplicateCompanies},
		{Name: "drop_soft_deleted", Run: r.dropSoftDeleted},
		{Name: "format_apprentice_names", Run: r.formatApprenticeNames},
		{Name: "prune_unsigned_trainings", Run: r.pruneUnsignedTrainings},
		{Name: "prune_dimensions", Run: r.pruneDimensions},
	}
}

// Run executes every task sequentially, recording one result per task.
func (r *Reconciler) Run(ctx context.Context, rep *report.RunReport) {
	for _, task := range r.Tasks() {
		start := time.Now()
		r.log.Infof("executing cleanup: %s", task.Name)

		affected, err := task.Run(ctx)
		res := report.TableResult{
			Phase:    report.PhaseCleanup,
			Table:    task.Name,
			Deleted:  affected,
			Duration: time.Since(start),
		}
		if err != nil {
			res.Error = err.Error()
			r.log.With().Str("task", task.Name).Err(err).Logger().Error("cleanup task failed")
		} else {
			r.log.With().Str("task", task.Name).Int64("rows", affected).Logger().Info("cleanup task done")
		}
		rep.Add(res)
	}
}

// dropTransientRows removes rows whose discriminator marks them as
// transient copies of real entities.
func (r *Reconciler) dropTransientRows(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range config.DiscriminatorTables {
		n, err := BatchedDelete(ctx, r.db,
			schema.Qualify(r.tempSchema, table),
			"discr LIKE '%temp%'", config.DeleteBatchSize)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// cleanRegistrations drops invalid fact rows: missing required foreign
// keys, soft-deleted, duplicate-flagged status, out of the accepted date
// window, or still draft.
func (r *Reconciler) cleanRegistrations(ctx context.Context) (int64, error) {
	where := `apprentice_id IS NULL
		OR option_id IS NULL
		OR deleted_at IS NOT NULL
		OR status LIKE '%double%'
		OR start_date < $1
		OR draft = 1`
	return BatchedDelete(ctx, r.db,
		schema.Qualify(r.tempSchema, "registration"),
		where, config.DeleteBatchSize, config.RegistrationMinStartDate)
}

// repointApprenticeCities replaces staging city ids with the production
// ids carrying the same natural code, then discards the mapping.
func (r *Reconciler) repointApprenticeCities(ctx context.Context) (int64, error) {
	var updated int64
	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, buildCityMappingSQL(r.tempSchema, r.prodSchema)); err != nil {
			return err
		}

		var mappings int64
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM temp_city_mapping").Scan(&mappings); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE `+schema.Qualify(r.tempSchema, "apprentice")+` a
			SET address_city_id = m.valid_city_id
			FROM temp_city_mapping m
			WHERE a.address_city_id = m.temp_city_id`)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected()

		r.log.Infof("cities repointed: %d mappings, %d apprentices updated", mappings, updated)
		_, err = tx.Exec(ctx, "DROP TABLE IF EXISTS temp_city_mapping")
		return err
	})
	return updated, err
}

// mergeDuplicateCompanies merges staging companies sharing a SIRET: the
// top-ranked row per group survives, every reference is repointed to it,
// and the rest are deleted. Deterministic and total — each group always
// keeps exactly one row.
func (r *Reconciler) mergeDuplicateCompanies(ctx context.Context) (int64, error) {
	var deleted int64
	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+r.tempSchema+".company_duplicate_map"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, buildDuplicateMapSQL(r.tempSchema)); err != nil {
			return err
		}

		var duplicates int64
		q := "SELECT COUNT(*) FROM " + r.tempSchema + ".company_duplicate_map"
		if err := tx.QueryRow(ctx, q).Scan(&duplicates); err != nil {
			return err
		}
		r.log.Infof("found %d companies with duplicate SIRET", duplicates)

		if duplicates > 0 {
			for _, ref := range config.CompanyReferences {
				tag, err := tx.Exec(ctx, buildRepointSQL(r.tempSchema, ref))
				if err != nil {
					return err
				}
				r.log.Infof("%d %s.%s references repointed", tag.RowsAffected(), ref.Table, ref.Column)
			}

			tag, err := tx.Exec(ctx, `
				DELETE FROM `+schema.Qualify(r.tempSchema, "company")+` c
				USING `+r.tempSchema+`.company_duplicate_map m
				WHERE c.id = m.id_to_delete`)
			if err != nil {
				return err
			}
			deleted = tag.RowsAffected()
		}

		_, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+r.tempSchema+".company_duplicate_map")
		return err
	})
	return deleted, err
}

// dropSoftDeleted removes rows the operational store only flagged.
func (r *Reconciler) dropSoftDeleted(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range config.SoftDeleteTables {
		n, err := BatchedDelete(ctx, r.db,
			schema.Qualify(r.tempSchema, table),
			"deleted_at IS NOT NULL", config.DeleteBatchSize)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// formatApprenticeNames re-applies the name normalization in SQL. The
// transfer engine already normalized transferred rows; this pass makes
// the invariant hold for rows produced by earlier cleanup passes too.
func (r *Reconciler) formatApprenticeNames(ctx context.Context) (int64, error) {
	var updated int64
	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		apprentice := schema.Qualify(r.tempSchema, "apprentice")
		tag, err := tx.Exec(ctx, "UPDATE "+apprentice+" SET last_name = UPPER(last_name) WHERE last_name IS NOT NULL")
		if err != nil {
			return err
		}
		updated = tag.RowsAffected()
		_, err = tx.Exec(ctx, "UPDATE "+apprentice+" SET first_name = INITCAP(first_name) WHERE first_name IS NOT NULL")
		return err
	})
	return updated, err
}

// pruneUnsignedTrainings drops training rows no enrollment anchors: a
// training is kept only if at least one registration reaches it through
// option → group → course with a signature date inside the accepted
// window.
func (r *Reconciler) pruneUnsignedTrainings(ctx context.Context) (int64, error) {
	where := `NOT EXISTS (
		SELECT 1
		FROM ` + schema.Qualify(r.tempSchema, "registration") + ` r
		JOIN ` + schema.Qualify(r.tempSchema, "training_option") + ` o ON r.option_id = o.id
		JOIN ` + schema.Qualify(r.tempSchema, "training_group") + ` g ON o.group_id = g.id
		JOIN ` + schema.Qualify(r.tempSchema, "training_course") + ` c ON g.course_id = c.id
		WHERE c.training_id = ` + schema.Qualify(r.tempSchema, "training") + `.id
		  AND r.signed_at IS NOT NULL
		  AND r.signed_at >= $1
	)`
	return BatchedDelete(ctx, r.db,
		schema.Qualify(r.tempSchema, "training"),
		where, config.DeleteBatchSize, config.RegistrationMinStartDate)
}

// pruneDimensions deletes dimension rows not referenced by any declared
// dependent, driven entirely by the registry.
func (r *Reconciler) pruneDimensions(ctx context.Context) (int64, error) {
	var total int64
	for _, rule := range config.DimensionRules {
		n, err := BatchedDelete(ctx, r.db,
			schema.Qualify(r.tempSchema, rule.Table),
			buildDimensionPruneWhere(r.tempSchema, rule),
			config.DeleteBatchSize)
		total += n
		if err != nil {
			return total, err
		}
		r.log.Infof("%d rows pruned from %s", n, rule.Table)
	}
	return total, nil
}
