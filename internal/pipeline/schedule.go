package pipeline

import (
	"context"
	"time"

	"github.com/mchallet/stagesync/internal/report"
)

// RunObserver is notified at run boundaries. The daemon's status endpoint
// tracker implements it; a nil observer is allowed.
type RunObserver interface {
	RunStarted()
	RunFinished(rep *report.RunReport, err error)
}

// NextRunTime returns the next instant with the given hour-of-day strictly
// after now. A run starting exactly at the boundary schedules the next one
// a full day out.
func NextRunTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Daemon runs the pipeline once per day at the configured hour until the
// context is cancelled. With runNow set, one run executes immediately
// before the schedule takes over. A failed run never stops the daemon; the
// next scheduled run is the retry mechanism.
func (p *Pipeline) Daemon(ctx context.Context, opts Options, runNow bool, obs RunObserver) error {
	if runNow {
		p.runObserved(ctx, opts, obs)
	}

	for {
		next := NextRunTime(time.Now(), p.cfg.RunHour)
		p.log.Infof("next run scheduled at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		p.runObserved(ctx, opts, obs)
	}
}

func (p *Pipeline) runObserved(ctx context.Context, opts Options, obs RunObserver) {
	if obs != nil {
		obs.RunStarted()
	}
	rep, err := p.RunOnce(ctx, opts)
	if err != nil {
		p.log.With().Err(err).Logger().Error("run aborted before its phases completed")
	}
	if obs != nil {
		obs.RunFinished(rep, err)
	}
}
