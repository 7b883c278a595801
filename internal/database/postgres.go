// Package database is the connection and transaction substrate shared by
// every phase: a metrics-recording MariaDB reader, a PostgreSQL
// destination with retrying connect and bulk-load session mode, scoped
// transactions, and an optional bounded destination pool.
package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/errs"
	"github.com/mchallet/stagesync/internal/logger"
)

// PG is the query surface shared by destination connections and
// transactions. *pgx.Conn, pgx.Tx, *pgxpool.Pool and *DestConn all
// satisfy it, which keeps the SQL-building layers testable with fakes.
type PG interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner is anything that can open a transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Destination connect retry policy. Only startup-transient failures are
// retried; anything else propagates immediately.
const (
	maxConnectRetries = 10
	baseConnectDelay  = 2 * time.Second
	maxConnectDelay   = 60 * time.Second
)

// Manager hands out configured destination connections. In pool mode a
// bounded pgx pool is created lazily and reused; every checkout re-applies
// the session configuration and every release restores trigger state.
type Manager struct {
	cfg  config.DestConfig
	log  *logger.Logger
	pool *pgxpool.Pool
}

// NewManager creates a destination connection manager.
func NewManager(cfg config.DestConfig, log *logger.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// DestConn is a live destination connection in bulk-load session mode:
// search_path set to the production schema and row-level triggers
// suppressed (session_replication_role = replica). Callers must Release
// it; Release always restores trigger state first.
type DestConn struct {
	conn   *pgx.Conn
	pooled *pgxpool.Conn
	log    *logger.Logger
}

// Acquire returns a configured destination connection. The first connect
// retries with exponential backoff while the server reports
// startup-transient errors, because the warehouse container may still be
// booting when a scheduled run starts.
func (m *Manager) Acquire(ctx context.Context) (*DestConn, error) {
	if m.cfg.UsePool {
		return m.acquirePooled(ctx)
	}

	conn, err := m.connectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	dc := &DestConn{conn: conn, log: m.log}
	if err := dc.configureSession(ctx, m.cfg.Schema); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return dc, nil
}

func (m *Manager) acquirePooled(ctx context.Context) (*DestConn, error) {
	if m.pool == nil {
		poolCfg, err := pgxpool.ParseConfig(m.cfg.DSN())
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid postgres DSN", err)
		}
		poolCfg.MinConns = m.cfg.PoolMin
		poolCfg.MaxConns = m.cfg.PoolMax

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed, "cannot create postgres pool", err)
		}
		m.pool = pool
	}

	pooled, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "pool acquire failed", err)
	}
	dc := &DestConn{pooled: pooled, log: m.log}
	if err := dc.configureSession(ctx, m.cfg.Schema); err != nil {
		pooled.Release()
		return nil, err
	}
	return dc, nil
}

func (m *Manager) connectWithRetry(ctx context.Context) (*pgx.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < maxConnectRetries; attempt++ {
		conn, err := pgx.Connect(ctx, m.cfg.DSN())
		if err == nil {
			return conn, nil
		}
		if !isTransientConnectErr(err) {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed, "postgres connect failed", err)
		}
		lastErr = err

		delay := baseConnectDelay << attempt
		if delay > maxConnectDelay || delay <= 0 {
			delay = maxConnectDelay
		}
		m.log.With().
			Int("attempt", attempt+1).
			Int("max_attempts", maxConnectRetries).
			Dur("retry_in", delay).
			Err(err).
			Logger().Warn("postgres not ready, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.ErrKindTimeout, "postgres connect cancelled", ctx.Err())
		}
	}
	return nil, errs.Wrap(errs.ErrKindConnectionFailed,
		"postgres unreachable after all retries", lastErr)
}

// isTransientConnectErr reports whether the connect failure is worth
// retrying: the server still starting up, or nothing listening yet.
func isTransientConnectErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "starting up") || strings.Contains(msg, "connection refused")
}

// Close shuts the pool down, if one was created.
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
}

// configureSession applies bulk-load session settings. The schema name
// comes from static configuration, never user input.
func (d *DestConn) configureSession(ctx context.Context, schema string) error {
	if _, err := d.Exec(ctx, "SET search_path TO "+schema); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "cannot set search_path", err)
	}
	if _, err := d.Exec(ctx, "SET session_replication_role = 'replica'"); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "cannot suppress triggers", err)
	}
	return nil
}

// Release restores trigger state and returns the connection. It is safe to
// call after errors; restore failures are logged, never raised — the
// session dies with the connection anyway.
func (d *DestConn) Release(ctx context.Context) {
	if _, err := d.Exec(ctx, "SET session_replication_role = 'origin'"); err != nil {
		d.log.With().Err(err).Logger().Warn("could not restore trigger state on release")
	}
	if d.pooled != nil {
		d.pooled.Release()
		d.pooled = nil
		return
	}
	if d.conn != nil {
		if err := d.conn.Close(ctx); err != nil {
			d.log.With().Err(err).Logger().Warn("error closing postgres connection")
		}
		d.conn = nil
	}
}

// --- PG / TxBeginner delegation ---

func (d *DestConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if d.pooled != nil {
		return d.pooled.Exec(ctx, sql, args...)
	}
	return d.conn.Exec(ctx, sql, args...)
}

func (d *DestConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if d.pooled != nil {
		return d.pooled.Query(ctx, sql, args...)
	}
	return d.conn.Query(ctx, sql, args...)
}

func (d *DestConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d.pooled != nil {
		return d.pooled.QueryRow(ctx, sql, args...)
	}
	return d.conn.QueryRow(ctx, sql, args...)
}

func (d *DestConn) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.pooled != nil {
		return d.pooled.Begin(ctx)
	}
	return d.conn.Begin(ctx)
}
