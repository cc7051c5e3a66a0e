package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// LogRepo appends TaskLog rows. Append-only: no Update, no Delete.
type LogRepo struct {
	pool *pgxpool.Pool
}

func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

func (r *LogRepo) CreateTx(ctx context.Context, tx pgx.Tx, l *models.TaskLog) error {
	return tx.QueryRow(ctx, `
		INSERT INTO task_logs (id, task_id, level, message, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, l.ID, l.TaskID, l.Level, l.Message, l.Data).Scan(&l.CreatedAt)
}

// Create appends a log row outside any caller transaction. The scheduler
// and handler write their log rows with CreateTx instead.
func (r *LogRepo) Create(ctx context.Context, taskID uuid.UUID, level, message string, data json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_logs (id, task_id, level, message, data) VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), taskID, level, message, data)
	return err
}

func (r *LogRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.TaskLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, level, message, data, created_at
		FROM task_logs WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskLog
	for rows.Next() {
		var l models.TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Level, &l.Message, &l.Data, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
