package database

import (
	"strings"
	"sync"
	"time"

	"github.com/mchallet/stagesync/internal/logger"
)

// Metrics collects client-side impact metrics for the read-only source:
// query counts and timings per operation, plus slow-query capture. One
// instance is created per run and passed through the call chain; the
// internal lock makes concurrent increments safe should table processing
// ever be parallelised.
type Metrics struct {
	mu sync.Mutex

	slowThreshold time.Duration
	slowLog       *logger.Logger

	totalQueries int
	totalTime    time.Duration
	opsCount     map[string]int
	opsTime      map[string]time.Duration
	slowQueries  []SlowQuery
}

// SlowQuery records one query that exceeded the slow threshold.
type SlowQuery struct {
	Op       string        `json:"op"`
	Duration time.Duration `json:"duration"`
	SQL      string        `json:"sql"`
}

// OpStats aggregates executions of one operation type.
type OpStats struct {
	Count int           `json:"count"`
	Time  time.Duration `json:"time"`
}

// MetricsSummary is a point-in-time snapshot, safe to marshal.
type MetricsSummary struct {
	TotalQueries  int                `json:"total_queries"`
	TotalTime     time.Duration      `json:"total_time"`
	AvgPerQuery   time.Duration      `json:"avg_per_query"`
	ByOp          map[string]OpStats `json:"by_op"`
	SlowThreshold time.Duration      `json:"slow_threshold"`
	SlowQueries   []SlowQuery        `json:"slow_queries"`
}

// Max slow queries kept in a summary; the full list stays in the slow log.
const slowQueryLimit = 20

// NewMetrics creates a collector. slowLog may be nil to disable the
// dedicated slow-query log (slow queries are still counted).
func NewMetrics(slowThreshold time.Duration, slowLog *logger.Logger) *Metrics {
	m := &Metrics{slowThreshold: slowThreshold, slowLog: slowLog}
	m.reset()
	return m
}

// Record registers one query execution.
func (m *Metrics) Record(sql string, duration time.Duration) {
	op := operation(sql)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.totalTime += duration
	m.opsCount[op]++
	m.opsTime[op] += duration

	if duration >= m.slowThreshold {
		m.slowQueries = append(m.slowQueries, SlowQuery{
			Op:       op,
			Duration: duration,
			SQL:      shorten(sql, 500),
		})
		if m.slowLog != nil {
			m.slowLog.With().
				Str("op", op).
				Dur("duration", duration).
				Str("sql", shorten(sql, 500)).
				Logger().Info("slow query")
		}
	}
}

// Reset clears all counters at the start of a run.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *Metrics) reset() {
	m.totalQueries = 0
	m.totalTime = 0
	m.opsCount = make(map[string]int)
	m.opsTime = make(map[string]time.Duration)
	m.slowQueries = nil
}

// TotalQueries returns the number of queries recorded so far.
func (m *Metrics) TotalQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalQueries
}

// Summary snapshots the collector.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.totalQueries > 0 {
		avg = m.totalTime / time.Duration(m.totalQueries)
	}

	byOp := make(map[string]OpStats, len(m.opsCount))
	for op, count := range m.opsCount {
		byOp[op] = OpStats{Count: count, Time: m.opsTime[op]}
	}

	slow := m.slowQueries
	if len(slow) > slowQueryLimit {
		slow = slow[:slowQueryLimit]
	}
	out := make([]SlowQuery, len(slow))
	copy(out, slow)

	return MetricsSummary{
		TotalQueries:  m.totalQueries,
		TotalTime:     m.totalTime,
		AvgPerQuery:   avg,
		ByOp:          byOp,
		SlowThreshold: m.slowThreshold,
		SlowQueries:   out,
	}
}

// operation extracts the leading SQL verb, upper-cased.
func operation(sql string) string {
	fields := strings.Fields(strings.TrimSpace(sql))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func shorten(sql string, max int) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
