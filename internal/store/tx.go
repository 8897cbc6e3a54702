package store

import (
	"context"
	"database/sql"
	"fmt"
)

// withinTx begins a transaction on db, runs fn with a transactional handle,
// and then commits on success or rolls back on error/panic. Panics are
// rethrown. Both engine implementations of [Connection.WithinTx] delegate
// here.
func withinTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBeginningTransaction, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("%w: %v", ErrCommitingTransaction, commitErr)
		}
	}()

	err = fn(ctx, tx)
	return err
}
