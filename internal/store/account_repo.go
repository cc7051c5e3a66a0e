package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// AccountRepo persists accounts and performs the locked balance mutations
// billing.Service needs. Grounded on the teacher's AccountRepo
// (GetByIDForUpdate / DeductCredits / AddCredits), generalized from
// credit_balance to the single balance column spec §3 defines.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, balance, created_at, updated_at FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByIDForUpdate locks the account row. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT id, balance, created_at, updated_at FROM accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetBalance writes a new balance within the caller's transaction. Call
// after GetByIDForUpdate in the same tx.
func (r *AccountRepo) SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1
	`, id, balance)
	return err
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, balance) VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, a.ID, a.Balance).Scan(&a.CreatedAt, &a.UpdatedAt)
}
