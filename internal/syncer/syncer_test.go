package syncer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/schema"
)

// fakeDB scripts the destination: introspection rows, COUNT(*) answers and
// affected-row counts for data statements, recording every statement.
type fakeDB struct {
	cols     []schema.Column
	counts   []int64
	affected []int64
	execs    []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	verb := strings.ToUpper(strings.Fields(strings.TrimSpace(sql))[0])
	switch verb {
	case "INSERT", "UPDATE", "DELETE":
		var n int64
		if len(f.affected) > 0 {
			n, f.affected = f.affected[0], f.affected[1:]
		}
		return pgconn.NewCommandTag(fmt.Sprintf("%s %d", verb, n)), nil
	}
	return pgconn.NewCommandTag(verb), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &colRows{cols: f.cols}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "COUNT(*)") {
		var n int64
		if len(f.counts) > 0 {
			n, f.counts = f.counts[0], f.counts[1:]
		}
		return scanFunc(func(dest ...any) error {
			*dest[0].(*int64) = n
			return nil
		})
	}
	// Existence probes (pg_proc, pg_trigger): already installed.
	return scanFunc(func(dest ...any) error {
		*dest[0].(*bool) = true
		return nil
	})
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) joined() string {
	return strings.Join(f.execs, "\n")
}

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(ctx context.Context) error { return nil }

func (t *fakeTx) Rollback(ctx context.Context) error { return pgx.ErrTxClosed }

type colRows struct {
	pgx.Rows
	cols []schema.Column
	i    int
}

func (r *colRows) Next() bool {
	r.i++
	return r.i <= len(r.cols)
}

func (r *colRows) Scan(dest ...any) error {
	c := r.cols[r.i-1]
	*dest[0].(*string) = c.Name
	*dest[1].(*string) = c.Type
	return nil
}

func (r *colRows) Err() error { return nil }

func (r *colRows) Close() {}

type scanFunc func(dest ...any) error

func (s scanFunc) Scan(dest ...any) error { return s(dest...) }

func testEngine(db *fakeDB) *Engine {
	return &Engine{
		db:         db,
		prodSchema: "staging",
		tempSchema: "temp_staging",
		log:        logger.Nop(),
	}
}

func TestRunUpsertsProtectedReferenceTable(t *testing.T) {
	// degree_level is delete-protected reference data, but new and changed
	// rows must still flow through the upsert.
	db := &fakeDB{
		cols: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "label", Type: "character varying"},
		},
		counts:   []int64{5, 6, 6},
		affected: []int64{1},
	}
	rep := report.NewRunReport("sync", false)

	testEngine(db).Run(context.Background(), []string{"degree_level"}, rep)

	require.Len(t, rep.Results, 1)
	res := rep.Results[0]
	assert.Equal(t, "degree_level", res.Table)
	assert.True(t, res.Success())
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, int64(0), res.Deleted)

	assert.Contains(t, db.joined(), "INSERT INTO staging.degree_level")
	assert.NotContains(t, db.joined(), "DELETE FROM staging.degree_level")
}

func TestRunDeletesAbsentRowsForUnprotectedTable(t *testing.T) {
	db := &fakeDB{
		cols: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "code", Type: "character varying"},
			{Name: "name", Type: "character varying"},
		},
		counts:   []int64{10, 10, 8},
		affected: []int64{0, 2},
	}
	rep := report.NewRunReport("sync", false)

	testEngine(db).Run(context.Background(), []string{"city"}, rep)

	require.Len(t, rep.Results, 1)
	res := rep.Results[0]
	assert.True(t, res.Success())
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, int64(8), res.FinalCount)

	assert.Contains(t, db.joined(),
		"DELETE FROM staging.city WHERE code NOT IN (SELECT code FROM temp_staging.city)")
}
