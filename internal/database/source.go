package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/errs"
)

// Source is the read-only MariaDB connection. Every query goes through the
// metrics collector so the run can report its impact on the operational
// store.
type Source struct {
	db      *sql.DB
	metrics *Metrics
}

// ConnectSource opens the MariaDB connection pool and validates it with a
// ping. Source connects are not retried: the operational store is expected
// to be up; only the warehouse may still be starting.
func ConnectSource(ctx context.Context, cfg config.SourceConfig, metrics *Metrics) (*Source, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid mariadb DSN", err)
	}

	// One reader is enough for sequential table processing.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "mariadb ping failed", err)
	}

	return &Source{db: db, metrics: metrics}, nil
}

// Close releases the source connection pool.
func (s *Source) Close() {
	_ = s.db.Close()
}

// Query runs a read query, recording its duration in the metrics collector.
func (s *Source) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.record(query, time.Since(start))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "mariadb query failed", err)
	}
	return rows, nil
}

// Count returns SELECT COUNT(*) for a validated table identifier.
func (s *Source) Count(ctx context.Context, table string) (int64, error) {
	start := time.Now()
	query := "SELECT COUNT(*) FROM " + table
	var n int64
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	s.record(query, time.Since(start))
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindQueryFailed, "mariadb count failed", err)
	}
	return n, nil
}

// Tables lists the tables present on the source.
func (s *Source) Tables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.Query(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "scan table name", err)
		}
		tables[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "iterate tables", err)
	}
	return tables, nil
}

// Columns returns the source column names of a table, in declaration order.
func (s *Source) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.Query(ctx, "SHOW COLUMNS FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resultCols, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "read SHOW COLUMNS layout", err)
	}

	var names []string
	for rows.Next() {
		// SHOW COLUMNS yields Field, Type, Null, Key, Default, Extra;
		// only Field matters here.
		dest := make([]any, len(resultCols))
		var field string
		dest[0] = &field
		for i := 1; i < len(dest); i++ {
			dest[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "scan column name", err)
		}
		names = append(names, field)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "iterate columns", err)
	}
	return names, nil
}

// Metrics exposes the collector recording this source's query impact.
// May be nil when metrics are disabled.
func (s *Source) Metrics() *Metrics {
	return s.metrics
}

func (s *Source) record(query string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.Record(query, d)
	}
}
