// Command stagesync runs the staged MariaDB-to-PostgreSQL migration
// pipeline: once, or daily as a daemon with a status endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/pipeline"
	"github.com/mchallet/stagesync/internal/report"
	"github.com/mchallet/stagesync/internal/server"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the YAML configuration")
		step        = flag.String("step", "full", "phase selector: migrate, cleanup, sync or full")
		dryRun      = flag.Bool("dry-run", false, "read and transform without writing anything")
		keepStaging = flag.Bool("keep-staging", false, "keep the staging schema after the run")
		tablesFlag  = flag.String("tables", "", "comma-separated table subset (default: all)")
		daemon      = flag.Bool("daemon", false, "run daily at the configured hour instead of once")
		force       = flag.Bool("force", false, "daemon mode: run immediately, then follow the schedule")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := newLogger(cfg.Log)

	stepSel, err := pipeline.ParseStep(*step)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var metrics *database.Metrics
	if cfg.Metrics.Enabled {
		slowLog := logger.NewFile(cfg.Metrics.LogFile, "info")
		metrics = database.NewMetrics(time.Duration(cfg.Metrics.SlowMs)*time.Millisecond, slowLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver *report.Archiver
	if cfg.Archive.Enabled {
		archiver, err = report.NewArchiver(ctx, cfg.Archive)
		if err != nil {
			log.With().Err(err).Logger().Warn("object store unreachable, report archiving disabled")
			archiver = nil
		}
	}

	dest := database.NewManager(cfg.Destination, log)
	defer dest.Close()

	pipe := pipeline.New(cfg, log, dest, metrics, archiver)
	opts := pipeline.Options{
		Step:        stepSel,
		DryRun:      *dryRun,
		KeepStaging: *keepStaging,
		Tables:      splitTables(*tablesFlag),
	}

	if *daemon {
		runDaemon(ctx, cfg, pipe, opts, *force, metrics, log)
		return
	}

	rep, err := pipe.RunOnce(ctx, opts)
	if err != nil {
		log.Errorf("run aborted: %v", err)
		os.Exit(1)
	}
	if len(rep.Failures()) > 0 {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline, opts pipeline.Options, force bool, metrics *database.Metrics, log *logger.Logger) {
	tracker := server.NewTracker()

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, tracker, metrics, log)
		srv.Start()
	}

	err := pipe.Daemon(ctx, opts, force, tracker)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("daemon stopped: %v", err)
	}
	log.Info("daemon stopped")
}

func newLogger(cfg config.LogConfig) *logger.Logger {
	if cfg.File != "" {
		return logger.NewFile(cfg.File, cfg.Level)
	}
	return logger.New(&logger.Config{Level: cfg.Level, Format: cfg.Format})
}

func splitTables(s string) []string {
	if s == "" {
		return nil
	}
	var tables []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}
	return tables
}
