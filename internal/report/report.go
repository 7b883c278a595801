// Package report accumulates per-table results across a run, persists them
// as audit rows, and optionally archives the whole run as a JSON object.
package report

import (
	"encoding/json"
	"time"
)

// Phase names recorded in audit rows.
const (
	PhaseMigrate = "run_migration"
	PhaseCleanup = "run_cleanup"
	PhaseSync    = "sync_tables"
)

// TableResult is the outcome of one table within one phase. Immutable
// once appended to the run report.
type TableResult struct {
	Phase      string        `json:"phase"`
	Table      string        `json:"table"`
	Processed  int64         `json:"processed"`
	Inserted   int64         `json:"inserted"`
	Updated    int64         `json:"updated"`
	Deleted    int64         `json:"deleted"`
	FinalCount int64         `json:"final_count"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Success reports whether the table completed its phase.
func (r TableResult) Success() bool {
	return r.Error == ""
}

// RunReport collects every table/task result of one migration cycle.
// Created fresh per run.
type RunReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Step       string        `json:"step"`
	DryRun     bool          `json:"dry_run"`
	Results    []TableResult `json:"results"`
}

// NewRunReport starts a report for the given step selector.
func NewRunReport(step string, dryRun bool) *RunReport {
	return &RunReport{StartedAt: time.Now(), Step: step, DryRun: dryRun}
}

// Add appends one table result.
func (r *RunReport) Add(res TableResult) {
	r.Results = append(r.Results, res)
}

// Finish stamps the end time.
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now()
}

// Failures returns every failed result, for the end-of-run summary.
func (r *RunReport) Failures() []TableResult {
	var failed []TableResult
	for _, res := range r.Results {
		if !res.Success() {
			failed = append(failed, res)
		}
	}
	return failed
}

// PhaseResults returns the results recorded for one phase.
func (r *RunReport) PhaseResults(phase string) []TableResult {
	var out []TableResult
	for _, res := range r.Results {
		if res.Phase == phase {
			out = append(out, res)
		}
	}
	return out
}

// JSON marshals the report for the run log row and the archiver.
func (r *RunReport) JSON() ([]byte, error) {
	return json.Marshal(r)
}
