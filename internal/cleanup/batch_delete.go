package cleanup

import (
	"context"
	"fmt"

	"github.com/mchallet/stagesync/internal/database"
	"github.com/mchallet/stagesync/internal/errs"
)

// BatchedDelete removes every row matching where from table, at most
// batchSize rows per committed statement, looping until a batch comes up
// short. Lock duration and transaction size stay bounded no matter how
// many rows qualify. Each statement autocommits; a failure mid-way leaves
// previously deleted batches deleted, which is fine — every caller's
// predicate is idempotent.
func BatchedDelete(ctx context.Context, db database.PG, table, where string, batchSize int, args ...any) (int64, error) {
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s LIMIT %d)",
		table, table, where, batchSize)

	var total int64
	for {
		tag, err := db.Exec(ctx, stmt, args...)
		if err != nil {
			return total, errs.Wrap(errs.ErrKindQueryFailed, "batched delete failed on "+table, err)
		}
		n := tag.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
