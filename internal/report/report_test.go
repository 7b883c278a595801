package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportAccumulation(t *testing.T) {
	r := NewRunReport("full", false)
	r.Add(TableResult{Phase: PhaseMigrate, Table: "company", Processed: 100, Inserted: 100})
	r.Add(TableResult{Phase: PhaseMigrate, Table: "city", Error: "no common columns"})
	r.Add(TableResult{Phase: PhaseSync, Table: "company", Inserted: 3, Updated: 7})
	r.Finish()

	assert.Len(t, r.Results, 3)
	assert.Len(t, r.PhaseResults(PhaseMigrate), 2)
	assert.Len(t, r.PhaseResults(PhaseSync), 1)
	assert.False(t, r.FinishedAt.IsZero())

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "city", failures[0].Table)
}

func TestTableResultSuccess(t *testing.T) {
	assert.True(t, TableResult{Table: "billing"}.Success())
	assert.False(t, TableResult{Table: "billing", Error: "boom"}.Success())
}

func TestRunReportJSON(t *testing.T) {
	r := NewRunReport("sync", true)
	r.Add(TableResult{
		Phase:    PhaseSync,
		Table:    "registration",
		Inserted: 12,
		Duration: 1500 * time.Millisecond,
	})
	r.Finish()

	raw, err := r.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "sync", decoded["step"])
	assert.Equal(t, true, decoded["dry_run"])

	results, ok := decoded["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "registration", first["table"])
	// Error is omitted when empty.
	_, hasError := first["error"]
	assert.False(t, hasError)
}
