// Package store holds the pgx-backed repositories for every table in
// §3 of the spec. Repositories expose both pool-level methods (for plain
// reads) and tx-scoped methods (for the billing and scheduler writes that
// must be atomic), following the split the teacher repo uses throughout
// internal/repository: a *_repo.go per table with a pool-bound Create/Get
// and a handful of `(ctx, tx pgx.Tx, ...)` variants for callers that need
// row locks or multi-statement atomicity.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the minimal pgxpool surface the store package depends on.
type Pool = pgxpool.Pool

// Open creates a pgxpool.Pool for dbURL and verifies connectivity.
func Open(ctx context.Context, dbURL string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
