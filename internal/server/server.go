// Package server exposes the daemon-mode HTTP surface: a liveness probe
// and a status endpoint reporting the last run.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/report"
)

// Tracker is the shared run state the HTTP handlers read. The pipeline
// updates it at run boundaries; handlers only ever take the read lock.
type Tracker struct {
	mu      sync.RWMutex
	running bool
	last    *report.RunReport
	lastErr string
}

// NewTracker returns an empty tracker: no run yet.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RunStarted marks a run in progress.
func (t *Tracker) RunStarted() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// RunFinished records the completed run's report.
func (t *Tracker) RunFinished(rep *report.RunReport, err error) {
	t.mu.Lock()
	t.running = false
	t.last = rep
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()
}

type statusPayload struct {
	Running       bool                     `json:"running"`
	LastRun       *report.RunReport        `json:"last_run,omitempty"`
	LastRunError  string                   `json:"last_run_error,omitempty"`
	FailedTables  int                      `json:"failed_tables"`
	SourceMetrics *database.MetricsSummary `json:"source_metrics,omitempty"`
}

func (t *Tracker) status() statusPayload {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := statusPayload{Running: t.running, LastRun: t.last, LastRunError: t.lastErr}
	if t.last != nil {
		p.FailedTables = len(t.last.Failures())
	}
	return p
}

// Server is the daemon-mode HTTP server.
type Server struct {
	http *http.Server
	log  *logger.Logger
}

// New builds the router and binds it to the configured address. metrics
// may be nil when source metrics are disabled.
func New(cfg config.ServerConfig, tracker *Tracker, metrics *database.Metrics, log *logger.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		payload := tracker.status()
		if metrics != nil {
			s := metrics.Summary()
			payload.SourceMetrics = &s
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.With().Err(err).Logger().Warn("cannot encode status payload")
		}
	})

	return &Server{
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background. The listener failing is logged, not
// fatal: the pipeline keeps running without its status endpoint.
func (s *Server) Start() {
	s.log.Infof("status endpoint listening on %s", s.http.Addr)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.With().Err(err).Logger().Error("status endpoint stopped")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.With().Err(err).Logger().Warn("status endpoint shutdown failed")
	}
}
