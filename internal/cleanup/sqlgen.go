package cleanup

import (
	"fmt"
	"strings"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/schema"
)

// SQL builders for the reconciliation passes. Identifiers are validated
// through the schema package before interpolation; values always travel as
// parameters.

// buildDuplicateMapSQL materialises the duplicate-SIRET map: within each
// SIRET group, rows are ranked by (updated_at DESC, id DESC) and every row
// after the first is mapped to the group's canonical id. The tie-break is
// deliberate and must not change without product confirmation.
func buildDuplicateMapSQL(tempSchema string) string {
	company := schema.Qualify(tempSchema, "company")
	return fmt.Sprintf(`
		CREATE TABLE %s.company_duplicate_map AS
		WITH duplicates AS (
			SELECT id, siret, updated_at,
				ROW_NUMBER() OVER (
					PARTITION BY siret
					ORDER BY updated_at DESC, id DESC
				) AS rank
			FROM %s
			WHERE siret IS NOT NULL AND siret != ''
		)
		SELECT d1.id AS id_to_delete, d2.id AS id_to_keep
		FROM duplicates d1
		JOIN duplicates d2 ON d1.siret = d2.siret AND d2.rank = 1
		WHERE d1.rank > 1`,
		tempSchema, company)
}

// buildRepointSQL rewrites one foreign-key column from non-canonical ids
// to canonical ids using the duplicate map.
func buildRepointSQL(tempSchema string, ref config.Ref) string {
	if err := schema.ValidateIdent(ref.Column); err != nil {
		panic(err)
	}
	return fmt.Sprintf(`
		UPDATE %s t
		SET %s = m.id_to_keep
		FROM %s.company_duplicate_map m
		WHERE t.%s = m.id_to_delete`,
		schema.Qualify(tempSchema, ref.Table), ref.Column, tempSchema, ref.Column)
}

// buildDimensionPruneWhere builds the keep-predicate complement for one
// dimension: the row's key must appear in the union of all declared
// referencing columns, otherwise it is deleted.
func buildDimensionPruneWhere(tempSchema string, rule config.DimensionRule) string {
	if err := schema.ValidateIdent(rule.Key); err != nil {
		panic(err)
	}
	subs := make([]string, len(rule.References))
	for i, ref := range rule.References {
		if err := schema.ValidateIdent(ref.Column); err != nil {
			panic(err)
		}
		subs[i] = fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL",
			ref.Column, schema.Qualify(tempSchema, ref.Table), ref.Column)
	}
	return fmt.Sprintf("%s NOT IN (%s)", rule.Key, strings.Join(subs, " UNION "))
}

// buildCityMappingSQL maps staging city ids to production city ids by
// joining on the natural city code, keeping only rows where the surrogate
// ids differ.
func buildCityMappingSQL(tempSchema, prodSchema string) string {
	return fmt.Sprintf(`
		CREATE TEMP TABLE temp_city_mapping AS
		SELECT ct.id AS temp_city_id, c.id AS valid_city_id
		FROM %s ct
		JOIN %s c ON ct.code = c.code
		WHERE ct.id != c.id`,
		schema.Qualify(tempSchema, "city"), schema.Qualify(prodSchema, "city"))
}
