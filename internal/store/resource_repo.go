package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ResourceRepo persists TaskResource rows: task inputs written at create
// time, task outputs bulk-inserted by the Handler on completion.
type ResourceRepo struct {
	pool *pgxpool.Pool
}

func NewResourceRepo(pool *pgxpool.Pool) *ResourceRepo {
	return &ResourceRepo{pool: pool}
}

func (r *ResourceRepo) CreateTx(ctx context.Context, tx pgx.Tx, res *models.TaskResource) error {
	return tx.QueryRow(ctx, `
		INSERT INTO task_resources (id, task_id, resource_type, is_input, url, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, res.ID, res.TaskID, res.ResourceType, res.IsInput, res.URL, res.Metadata).Scan(&res.CreatedAt)
}

// BulkCreate inserts output resources one statement per row inside a
// single transaction (pgx has no portable multi-row RETURNING helper, so
// we keep the teacher's one-row-per-insert style rather than reach for a
// COPY path nothing else in this repo needs).
func (r *ResourceRepo) BulkCreate(ctx context.Context, tx pgx.Tx, resources []*models.TaskResource) error {
	for _, res := range resources {
		if err := r.CreateTx(ctx, tx, res); err != nil {
			return err
		}
	}
	return nil
}

func (r *ResourceRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, resource_type, is_input, url, metadata, created_at
		FROM task_resources WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskResource
	for rows.Next() {
		var res models.TaskResource
		if err := rows.Scan(&res.ID, &res.TaskID, &res.ResourceType, &res.IsInput, &res.URL, &res.Metadata, &res.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &res)
	}
	return list, rows.Err()
}

func (r *ResourceRepo) ListInputsByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, resource_type, is_input, url, metadata, created_at
		FROM task_resources WHERE task_id = $1 AND is_input = TRUE ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskResource
	for rows.Next() {
		var res models.TaskResource
		if err := rows.Scan(&res.ID, &res.TaskID, &res.ResourceType, &res.IsInput, &res.URL, &res.Metadata, &res.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &res)
	}
	return list, rows.Err()
}
