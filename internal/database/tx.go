package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mchallet/stagesync/internal/errs"
)

// WithTransaction opens a transaction, runs fn, commits on success and
// rolls back on any error. This is the unit of fault isolation: a failure
// inside one table's transaction never corrupts another table's state.
func WithTransaction(ctx context.Context, db TxBeginner, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "begin failed", err)
	}

	defer func() {
		// No-op after a successful commit.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			_ = rbErr
		}
	}()

	if err := fn(tx); err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "transaction rolled back", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "commit failed", err)
	}
	return nil
}
