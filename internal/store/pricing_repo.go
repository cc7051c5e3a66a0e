package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ErrPricingNotFound is returned when no pricing_configs row exists for a
// task type. billing.Service wraps this as a ConfigurationError.
var ErrPricingNotFound = errors.New("pricing config not found")

type PricingRepo struct {
	pool *pgxpool.Pool
}

func NewPricingRepo(pool *pgxpool.Pool) *PricingRepo {
	return &PricingRepo{pool: pool}
}

func (r *PricingRepo) GetByTaskType(ctx context.Context, taskType models.TaskType) (*models.PricingConfig, error) {
	var p models.PricingConfig
	err := r.pool.QueryRow(ctx, `
		SELECT id, task_type, billing_type, unit_price, min_unit, created_at, updated_at
		FROM pricing_configs WHERE task_type = $1
	`, taskType).Scan(&p.ID, &p.TaskType, &p.BillingType, &p.UnitPrice, &p.MinUnit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPricingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID reads a pricing row outside any transaction: settlement only
// reads the snapshot, it never needs to lock it.
func (r *PricingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PricingConfig, error) {
	var p models.PricingConfig
	err := r.pool.QueryRow(ctx, `
		SELECT id, task_type, billing_type, unit_price, min_unit, created_at, updated_at
		FROM pricing_configs WHERE id = $1
	`, id).Scan(&p.ID, &p.TaskType, &p.BillingType, &p.UnitPrice, &p.MinUnit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPricingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
