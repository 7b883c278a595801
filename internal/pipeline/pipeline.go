// Package pipeline drives one migration cycle end to end: staging rebuild,
// transfer, cleanup, sync, teardown, and the run-level bookkeeping around
// them. Phase failures are values in the run report; only setup failures
// (configuration, connections) abort a run.
package pipeline

import (
	"context"
	"time"

	"github.com/mchallet/stagesync/internal/cleanup"
	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/staging"
	"github.com/mchallet/stagesync/internal/syncer"
	"github.com/mchallet/stagesync/internal/transfer"
)

// Step selects which phases a run executes.
type Step string

const (
	StepMigrate Step = "migrate"
	StepCleanup Step = "cleanup"
	StepSync    Step = "sync"
	StepFull    Step = "full"
)

// ParseStep validates a step selector.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepMigrate, StepCleanup, StepSync, StepFull:
		return Step(s), nil
	}
	return "", errs.Newf(errs.ErrKindConfiguration, "unknown step %q", s)
}

func (s Step) includes(phase Step) bool {
	return s == StepFull || s == phase
}

// Options are the per-run knobs.
type Options struct {
	Step        Step
	DryRun      bool
	KeepStaging bool
	Tables      []string
}

// Pipeline wires the engines together. One instance serves many runs.
type Pipeline struct {
	cfg      *config.Config
	log      *logger.Logger
	dest     *database.Manager
	metrics  *database.Metrics
	archiver *report.Archiver
}

// New builds a pipeline. archiver may be nil when report archiving is
// disabled.
func New(cfg *config.Config, log *logger.Logger, dest *database.Manager, metrics *database.Metrics, archiver *report.Archiver) *Pipeline {
	return &Pipeline{cfg: cfg, log: log, dest: dest, metrics: metrics, archiver: archiver}
}

// RunOnce executes one cycle. The returned error covers setup failures
// only; per-table and per-task failures live in the report, and the run
// always reaches its final log line.
func (p *Pipeline) RunOnce(ctx context.Context, opts Options) (*report.RunReport, error) {
	rep := report.NewRunReport(string(opts.Step), opts.DryRun)
	if p.metrics != nil {
		p.metrics.Reset()
	}

	p.log.With().
		Str("step", string(opts.Step)).
		Logger().Infof("starting run (dry_run=%v)", opts.DryRun)

	source, err := database.ConnectSource(ctx, p.cfg.Source, p.metrics)
	if err != nil {
		return rep, err
	}
	defer source.Close()

	dest, err := p.dest.Acquire(ctx)
	if err != nil {
		return rep, err
	}
	defer dest.Release(ctx)

	tables, err := p.resolveTables(ctx, source, opts.Tables)
	if err != nil {
		return rep, err
	}
	if len(tables) == 0 {
		return rep, errs.New(errs.ErrKindConfiguration, "no requested table exists on the source")
	}

	stager, err := staging.NewManager(dest,
		p.cfg.Destination.Schema, p.cfg.Destination.StagingSchema, p.log)
	if err != nil {
		return rep, err
	}

	if opts.Step.includes(StepMigrate) {
		if opts.DryRun {
			p.log.Info("dry-run: staging schema left untouched")
		} else {
			if err := stager.CreateSchema(ctx); err != nil {
				return rep, err
			}
			if err := stager.CreateTables(ctx, tables); err != nil {
				return rep, err
			}
		}
		transfer.NewEngine(source, dest, p.cfg, p.log, opts.DryRun).Run(ctx, tables, rep)
	}

	if opts.Step.includes(StepCleanup) {
		if opts.DryRun {
			p.log.Info("dry-run: cleanup phase skipped")
		} else {
			cleanup.NewReconciler(dest,
				p.cfg.Destination.Schema, p.cfg.Destination.StagingSchema, p.log).Run(ctx, rep)
		}
	}

	if opts.Step.includes(StepSync) {
		syncer.NewEngine(dest, p.cfg, p.log, opts.DryRun).Run(ctx, tables, rep)
	}

	if !opts.DryRun && !opts.KeepStaging && opts.Step.includes(StepMigrate) {
		if err := stager.DropSchema(ctx); err != nil {
			p.log.With().Err(err).Logger().Warn("staging schema not dropped")
		}
	}

	rep.Finish()
	p.finishRun(ctx, dest, rep, opts)
	return rep, nil
}

// resolveTables intersects the requested set (default: the full registry
// order) with what actually exists on the source, preserving load order.
func (p *Pipeline) resolveTables(ctx context.Context, source *database.Source, requested []string) ([]string, error) {
	onSource, err := source.Tables(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(requested))
	for _, t := range requested {
		wanted[t] = true
	}

	var tables []string
	for _, t := range config.TableOrder {
		if len(requested) > 0 && !wanted[t] {
			continue
		}
		if !onSource[t] {
			p.log.Warnf("table %s not present on source, skipped", t)
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// finishRun writes the run-level log rows, logs the failure summary and
// the source metrics, and archives the report.
func (p *Pipeline) finishRun(ctx context.Context, dest database.PG, rep *report.RunReport, opts Options) {
	if !opts.DryRun {
		for _, phase := range []string{report.PhaseMigrate, report.PhaseCleanup, report.PhaseSync} {
			results := rep.PhaseResults(phase)
			if len(results) == 0 {
				continue
			}
			stats, err := rep.JSON()
			if err != nil {
				p.log.With().Err(err).Logger().Warn("cannot marshal run stats")
				break
			}
			ok := true
			for _, res := range results {
				if !res.Success() {
					ok = false
					break
				}
			}
			if err := report.WriteRunLog(ctx, dest, p.cfg.Destination.Schema, phase, stats, ok); err != nil {
				p.log.With().Str("phase", phase).Err(err).Logger().Warn("run log row not written")
			}
		}
	}

	failures := rep.Failures()
	for _, f := range failures {
		p.log.With().
			Str("phase", f.Phase).
			Str("table", f.Table).
			Str("error", f.Error).
			Logger().Error("failed during run")
	}

	if p.metrics != nil {
		s := p.metrics.Summary()
		p.log.InfoWith("source query impact", map[string]any{
			"total_queries": s.TotalQueries,
			"total_time":    s.TotalTime.String(),
			"avg_per_query": s.AvgPerQuery.String(),
			"slow_queries":  len(s.SlowQueries),
		})
	}

	if p.archiver != nil && !opts.DryRun {
		key, err := p.archiver.Upload(ctx, rep)
		if err != nil {
			p.log.With().Err(err).Logger().Warn("report not archived")
		} else {
			p.log.Infof("run report archived as %s", key)
		}
	}

	p.log.Infof("run complete in %s: %d results, %d failed",
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
		len(rep.Results), len(failures))
}
