package syncer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchallet/stagesync/internal/report"
)

func flatten(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func companyStatement(db *fakeDB, marker string) string {
	for _, sql := range db.execs {
		if strings.Contains(sql, marker) {
			return flatten(sql)
		}
	}
	return ""
}

func TestSyncCompanySiretsInsertsBareKeysOnly(t *testing.T) {
	db := &fakeDB{counts: []int64{10, 42}, affected: []int64{3, 2, 1, 0}}

	res := testEngine(db).syncCompanySirets(context.Background())

	require.True(t, res.Success())
	assert.Equal(t, int64(3), res.Inserted)
	assert.Equal(t, int64(2), res.Updated)
	assert.Equal(t, int64(42), res.FinalCount)

	// Only the natural key and discriminator are written; descriptive
	// fields stay with enrichment.
	insert := companyStatement(db, "INSERT INTO staging.company")
	require.NotEmpty(t, insert)
	assert.Contains(t, insert, "INSERT INTO staging.company (siret, discr)")
	assert.Contains(t, insert, "SELECT tc.siret, tc.discr")
	assert.Contains(t, insert, "NOT EXISTS ( SELECT 1 FROM staging.company sc WHERE sc.siret = tc.siret )")
}

func TestSyncCompanySiretsNeverOverwritesEnrichedRows(t *testing.T) {
	// A production company with enriched fields and a staging row carrying
	// an older updated_at: the update touches updated_at alone, and only
	// when the incoming timestamp is strictly newer.
	db := &fakeDB{counts: []int64{0, 1}, affected: []int64{0, 0}}

	res := testEngine(db).syncCompanySirets(context.Background())

	require.True(t, res.Success())
	assert.Equal(t, int64(0), res.Updated)

	update := companyStatement(db, "SET updated_at")
	require.NotEmpty(t, update)
	assert.Contains(t, update, "UPDATE staging.company sc SET updated_at = tc.updated_at FROM temp_staging.company tc")
	assert.Contains(t, update, "tc.updated_at > sc.updated_at")
	assert.NotContains(t, update, ">=")
	// No other column is assigned.
	assert.Equal(t, 1, strings.Count(update, "SET "))
	assert.Equal(t, 1, strings.Count(update, "sc.updated_at IS NULL OR tc.updated_at > sc.updated_at"))
}

func TestSyncCompanySiretsRepointsStagingForeignKeys(t *testing.T) {
	db := &fakeDB{counts: []int64{5, 20}, affected: []int64{1, 1, 4, 2}}

	res := testEngine(db).syncCompanySirets(context.Background())

	require.True(t, res.Success())

	mapping := companyStatement(db, "CREATE TABLE temp_staging.company_id_mapping")
	require.NotEmpty(t, mapping)
	assert.Contains(t, mapping, "JOIN staging.company sc ON tc.siret = sc.siret")

	repoint := companyStatement(db, "SET host_company_id = m.staging_id")
	require.NotEmpty(t, repoint)
	assert.Contains(t, repoint, "UPDATE temp_staging.registration t")
	assert.Contains(t, repoint, "m.temp_id != m.staging_id")

	billing := companyStatement(db, "SET company_id = m.staging_id")
	require.NotEmpty(t, billing)
	assert.Contains(t, billing, "UPDATE temp_staging.billing t")

	assert.Contains(t, db.joined(), "DROP TABLE IF EXISTS temp_staging.company_id_mapping")
}

func TestRunRoutesCompanyThroughSiretPathOnly(t *testing.T) {
	db := &fakeDB{counts: []int64{10, 42}, affected: []int64{3, 2, 1, 0}}
	rep := report.NewRunReport("sync", false)

	testEngine(db).Run(context.Background(), []string{"company"}, rep)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "company", rep.Results[0].Table)

	// The general merge never touches company.
	assert.NotContains(t, db.joined(), "ON CONFLICT")
	assert.NotContains(t, db.joined(), "DELETE FROM staging.company")
}
