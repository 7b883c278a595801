package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/schema"
)

func testEngine() *Engine {
	return &Engine{log: logger.Nop()}
}

func TestTranscodeCoercesToDestinationTypes(t *testing.T) {
	common := []schema.Column{
		{Name: "id", Type: "integer"},
		{Name: "active", Type: "boolean"},
		{Name: "label", Type: "character varying"},
	}
	rows := [][]any{
		{[]byte("12"), int64(1), []byte("alpha")},
		{int64(13), int64(0), []byte("beta")},
	}

	out := testEngine().transcode("sector", common, rows)

	assert.Equal(t, [][]any{
		{int64(12), true, "alpha"},
		{int64(13), false, "beta"},
	}, out)
}

func TestTranscodeKeepsOriginalOnConversionFailure(t *testing.T) {
	common := []schema.Column{{Name: "id", Type: "integer"}}
	rows := [][]any{{[]byte("oops")}}

	out := testEngine().transcode("sector", common, rows)

	// Soft failure: the row survives with its original value.
	assert.Equal(t, []byte("oops"), out[0][0])
}

func TestTranscodeNormalizesApprenticeNames(t *testing.T) {
	common := []schema.Column{
		{Name: "first_name", Type: "character varying"},
		{Name: "last_name", Type: "character varying"},
	}
	rows := [][]any{
		{[]byte(" jean-marie"), []byte("challet ")},
		{nil, []byte("durand")},
	}

	out := testEngine().transcode("apprentice", common, rows)

	assert.Equal(t, "Jean-Marie", out[0][0])
	assert.Equal(t, "CHALLET", out[0][1])
	assert.Nil(t, out[1][0])
	assert.Equal(t, "DURAND", out[1][1])
}

func TestTranscodeDoesNotNormalizeOtherTables(t *testing.T) {
	common := []schema.Column{{Name: "first_name", Type: "character varying"}}
	rows := [][]any{{[]byte("jean")}}

	out := testEngine().transcode("company", common, rows)

	assert.Equal(t, "jean", out[0][0])
}

// fakeSource answers size and layout probes without a live database.
type fakeSource struct {
	count int64
	cols  []string
}

func (f *fakeSource) Count(ctx context.Context, table string) (int64, error) {
	return f.count, nil
}

func (f *fakeSource) Columns(ctx context.Context, table string) ([]string, error) {
	return f.cols, nil
}

func (f *fakeSource) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeSource) Metrics() *database.Metrics { return nil }

// fakeDest serves destination introspection only.
type fakeDest struct {
	cols []schema.Column
}

func (f *fakeDest) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeDest) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &colRows{cols: f.cols}, nil
}

func (f *fakeDest) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (f *fakeDest) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("not scripted")
}

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

func TestRunSkipsTableWithNoCommonColumns(t *testing.T) {
	// Source and destination share no column: the table is warned about
	// and skipped, never recorded as a failure.
	cfg := &config.Config{BatchSize: 500}
	cfg.Destination.Schema = "staging"
	cfg.Destination.StagingSchema = "temp_staging"

	e := NewEngine(
		&fakeSource{count: 3, cols: []string{"legacy_only"}},
		&fakeDest{cols: []schema.Column{{Name: "id", Type: "integer"}}},
		cfg, logger.Nop(), false)
	rep := report.NewRunReport("migrate", false)

	e.Run(context.Background(), []string{"sector"}, rep)

	assert.Empty(t, rep.Results)
	assert.Empty(t, rep.Failures())
}
