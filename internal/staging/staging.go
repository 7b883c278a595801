// Package staging manages the ephemeral schema that receives the raw copy
// of the operational store. The schema has no persistent identity: every
// table is dropped and recreated as a structural clone of its production
// counterpart at the start of each run.
package staging

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
	"github.com/mchallet/stagesync/internal/logger"
	"github.com/mchallet/stagesync/internal/schema"
)

// Manager creates and drops the staging schema and its table clones.
type Manager struct {
	db         database.TxBeginner
	prodSchema string
	tempSchema string
	log        *logger.Logger
}

// NewManager validates the schema names once, up front.
func NewManager(db database.TxBeginner, prodSchema, tempSchema string, log *logger.Logger) (*Manager, error) {
	if err := schema.ValidateIdent(prodSchema); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid production schema name", err)
	}
	if err := schema.ValidateIdent(tempSchema); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid staging schema name", err)
	}
	return &Manager{db: db, prodSchema: prodSchema, tempSchema: tempSchema, log: log}, nil
}

// CreateSchema creates the staging schema if it does not exist.
func (m *Manager) CreateSchema(ctx context.Context) error {
	m.log.Infof("creating staging schema %s", m.tempSchema)
	return database.WithTransaction(ctx, m.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+m.tempSchema)
		return err
	})
}

// CreateTables rebuilds one structural clone per table: all constraints
// and indexes copied from production, triggers disabled for bulk load.
// Existing clones are dropped first — staging never carries state across
// runs.
func (m *Manager) CreateTables(ctx context.Context, tables []string) error {
	m.log.Infof("creating %d staging tables", len(tables))
	return database.WithTransaction(ctx, m.db, func(tx pgx.Tx) error {
		for _, table := range tables {
			staged := schema.Qualify(m.tempSchema, table)
			prod := schema.Qualify(m.prodSchema, table)

			if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+staged+" CASCADE"); err != nil {
				return fmt.Errorf("drop %s: %w", staged, err)
			}
			ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)", staged, prod)
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("clone %s: %w", staged, err)
			}
			if _, err := tx.Exec(ctx, "ALTER TABLE "+staged+" DISABLE TRIGGER ALL"); err != nil {
				return fmt.Errorf("disable triggers on %s: %w", staged, err)
			}
			m.log.Debugf("staging table %s ready", staged)
		}
		return nil
	})
}

// DropSchema removes the staging schema and everything in it.
func (m *Manager) DropSchema(ctx context.Context) error {
	m.log.Infof("dropping staging schema %s", m.tempSchema)
	return database.WithTransaction(ctx, m.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "DROP SCHEMA IF EXISTS "+m.tempSchema+" CASCADE")
		return err
	})
}
