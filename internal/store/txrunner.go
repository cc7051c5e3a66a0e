package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner begins a transaction, runs fn, and commits or rolls back based
// on fn's result. Callers above the store package (handler, scheduler,
// taskservice) depend on the narrow TxRunner interface this satisfies,
// rather than pgxpool.Pool directly, so their tests can fake transaction
// boundaries without a real pgx.Tx — mirroring how the teacher's
// EscrowService never begins its own transaction, only uses one the
// caller passes in.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (t *TxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
