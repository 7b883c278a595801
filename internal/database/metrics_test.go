package database

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mchallet/stagesync/internal/logger"
)

func TestMetricsRecordAndSummary(t *testing.T) {
	m := NewMetrics(200*time.Millisecond, logger.Nop())

	m.Record("SELECT * FROM apprentice", 50*time.Millisecond)
	m.Record("select count(*) from billing", 150*time.Millisecond)
	m.Record("SHOW COLUMNS FROM city", 10*time.Millisecond)

	s := m.Summary()
	assert.Equal(t, 3, s.TotalQueries)
	assert.Equal(t, 210*time.Millisecond, s.TotalTime)
	assert.Equal(t, 70*time.Millisecond, s.AvgPerQuery)
	assert.Equal(t, 2, s.ByOp["SELECT"].Count)
	assert.Equal(t, 1, s.ByOp["SHOW"].Count)
	assert.Empty(t, s.SlowQueries)
}

func TestMetricsSlowCapture(t *testing.T) {
	m := NewMetrics(100*time.Millisecond, nil)

	m.Record("SELECT * FROM registration LIMIT 10000 OFFSET 0", 250*time.Millisecond)
	m.Record("SELECT 1", 5*time.Millisecond)

	s := m.Summary()
	assert.Len(t, s.SlowQueries, 1)
	assert.Equal(t, "SELECT", s.SlowQueries[0].Op)
	assert.Equal(t, 250*time.Millisecond, s.SlowQueries[0].Duration)
}

func TestMetricsSlowLimit(t *testing.T) {
	m := NewMetrics(time.Millisecond, nil)
	for i := 0; i < 30; i++ {
		m.Record("SELECT 1", 10*time.Millisecond)
	}
	assert.Len(t, m.Summary().SlowQueries, slowQueryLimit)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics(time.Second, nil)
	m.Record("SELECT 1", time.Millisecond)
	m.Reset()

	s := m.Summary()
	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.TotalTime)
	assert.Empty(t, s.ByOp)
}

func TestMetricsConcurrentIncrement(t *testing.T) {
	m := NewMetrics(time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record("SELECT 1", time.Microsecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, m.TotalQueries())
}

func TestMetricsShorten(t *testing.T) {
	long := "SELECT " + string(make([]byte, 600))
	m := NewMetrics(0, nil)
	m.Record(long, time.Millisecond)

	s := m.Summary()
	assert.LessOrEqual(t, len(s.SlowQueries[0].SQL), 500)
}

func TestTransientConnectClassification(t *testing.T) {
	tests := []struct {
		msg       string
		transient bool
	}{
		{"FATAL: the database system is starting up", true},
		{"dial tcp 10.0.0.2:5432: connect: connection refused", true},
		{"FATAL: password authentication failed for user \"loader\"", false},
		{"FATAL: database \"warehouse\" does not exist", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.transient, isTransientConnectErr(errString(tt.msg)), tt.msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
