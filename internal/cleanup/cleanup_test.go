package cleanup

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/logger"
)

// fakeExecer scripts Exec results for the batched-deletion loop.
type fakeExecer struct {
	tags  []pgconn.CommandTag
	errAt int // 1-based call index that fails; 0 means never
	calls []string
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, sql)
	call := len(f.calls)
	if f.errAt > 0 && call == f.errAt {
		return pgconn.CommandTag{}, fmt.Errorf("exec failed")
	}
	if call <= len(f.tags) {
		return f.tags[call-1], nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (f *fakeExecer) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeExecer) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func tag(n int) pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", n))
}

func TestBatchedDeleteLoopsUntilShortBatch(t *testing.T) {
	db := &fakeExecer{tags: []pgconn.CommandTag{tag(100), tag(100), tag(37)}}

	total, err := BatchedDelete(context.Background(), db, "temp_staging.billing",
		"deleted_at IS NOT NULL", 100)

	require.NoError(t, err)
	assert.Equal(t, int64(237), total)
	assert.Len(t, db.calls, 3)
	assert.Contains(t, db.calls[0], "ctid IN (SELECT ctid FROM temp_staging.billing")
	assert.Contains(t, db.calls[0], "LIMIT 100")
}

func TestBatchedDeleteSingleShortBatch(t *testing.T) {
	db := &fakeExecer{tags: []pgconn.CommandTag{tag(3)}}

	total, err := BatchedDelete(context.Background(), db, "t", "x = 1", 100)

	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, db.calls, 1)
}

func TestBatchedDeleteExactMultipleTerminates(t *testing.T) {
	// Two full batches then an empty one: the loop must stop on the zero.
	db := &fakeExecer{tags: []pgconn.CommandTag{tag(100), tag(100), tag(0)}}

	total, err := BatchedDelete(context.Background(), db, "t", "x = 1", 100)

	require.NoError(t, err)
	assert.Equal(t, int64(200), total)
	assert.Len(t, db.calls, 3)
}

func TestBatchedDeletePropagatesError(t *testing.T) {
	db := &fakeExecer{tags: []pgconn.CommandTag{tag(100)}, errAt: 2}

	total, err := BatchedDelete(context.Background(), db, "t", "x = 1", 100)

	require.Error(t, err)
	// Rows removed before the failure are reported.
	assert.Equal(t, int64(100), total)
}

func TestBuildDuplicateMapSQL(t *testing.T) {
	sql := buildDuplicateMapSQL("temp_staging")

	assert.Contains(t, sql, "PARTITION BY siret")
	assert.Contains(t, sql, "ORDER BY updated_at DESC, id DESC")
	assert.Contains(t, sql, "d2.rank = 1")
	assert.Contains(t, sql, "d1.rank > 1")
	assert.Contains(t, sql, "siret IS NOT NULL AND siret != ''")
	assert.Contains(t, sql, "temp_staging.company")
}

func TestBuildRepointSQL(t *testing.T) {
	sql := buildRepointSQL("temp_staging", config.Ref{Table: "registration", Column: "host_company_id"})

	assert.Contains(t, sql, "UPDATE temp_staging.registration")
	assert.Contains(t, sql, "SET host_company_id = m.id_to_keep")
	assert.Contains(t, sql, "WHERE t.host_company_id = m.id_to_delete")
}

func TestBuildDimensionPruneWhere(t *testing.T) {
	rule := config.DimensionRule{
		Table: "company",
		Key:   "id",
		References: []config.Ref{
			{Table: "registration", Column: "host_company_id"},
			{Table: "billing", Column: "company_id"},
		},
	}
	where := buildDimensionPruneWhere("temp_staging", rule)

	assert.Equal(t,
		"id NOT IN (SELECT host_company_id FROM temp_staging.registration WHERE host_company_id IS NOT NULL"+
			" UNION SELECT company_id FROM temp_staging.billing WHERE company_id IS NOT NULL)",
		where)
}

func TestBuildCityMappingSQL(t *testing.T) {
	sql := buildCityMappingSQL("temp_staging", "staging")

	assert.Contains(t, sql, "temp_staging.city ct")
	assert.Contains(t, sql, "JOIN staging.city c ON ct.code = c.code")
	assert.Contains(t, sql, "ct.id != c.id")
}

func TestTaskRegistryOrder(t *testing.T) {
	r := NewReconciler(nil, "staging", "temp_staging", logger.Nop())
	names := make([]string, 0)
	for _, task := range r.Tasks() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{
		"drop_transient_rows",
		"clean_registrations",
		"repoint_apprentice_cities",
		"merge_duplicate_companies",
		"drop_soft_deleted",
		"format_apprentice_names",
		"prune_unsigned_trainings",
		"prune_dimensions",
	}, names)
}
