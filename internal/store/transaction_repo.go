package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// TransactionRepo appends ledger rows. Grounded on the teacher's
// CreditRepo.CreateTx (insert-only, runs inside the caller's tx).
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, category, amount, balance_before, balance_after, task_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Category, t.Amount, t.BalanceBefore, t.BalanceAfter, t.TaskID, t.Metadata).Scan(&t.CreatedAt)
}

func (r *TransactionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, category, amount, balance_before, balance_after, task_id, metadata, created_at
		FROM transactions WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Category, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.TaskID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *TransactionRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, category, amount, balance_before, balance_after, task_id, metadata, created_at
		FROM transactions WHERE task_id = $1 ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Category, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.TaskID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
