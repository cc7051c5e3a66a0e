package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/mediatasks/internal/models"
)

// TaskRepo is the store for the tasks table, including the claim queries
// the scheduler uses. Plain CRUD follows the teacher's TaskRepo shape;
// the claim and state-gated transition methods are new — spec §4.6/§5
// requires SKIP LOCKED claiming and `WHERE status = 'processing'` guards
// that the teacher's simpler Update(ctx, t) does not need because it has
// no concurrent-worker scheduler of its own.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, account_id, name, type, category, mode, status, config,
	pricing_id, billing_type, estimated_cost, estimated_usage, actual_cost, actual_usage,
	external_task_id, retry_count, next_retry_at, created_at, updated_at, started_at, completed_at, result`

func scanTask(row interface {
	Scan(dest ...any) error
}) (*models.Task, error) {
	var t models.Task
	var resultJSON []byte
	err := row.Scan(&t.ID, &t.AccountID, &t.Name, &t.Type, &t.Category, &t.Mode, &t.Status, &t.Config,
		&t.PricingID, &t.BillingType, &t.EstimatedCost, &t.EstimatedUsage, &t.ActualCost, &t.ActualUsage,
		&t.ExternalTaskID, &t.RetryCount, &t.NextRetryAt, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt, &resultJSON)
	if err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &t.Result); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// CreateTx inserts a pending task row. Call inside the taskservice.Create
// transaction, before billing.Charge debits the account (the charge's
// ledger row references this task id).
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	resultJSON, err := json.Marshal(t.Result)
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, account_id, name, type, category, mode, status, config,
			pricing_id, billing_type, estimated_cost, estimated_usage, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, t.ID, t.AccountID, t.Name, t.Type, t.Category, t.Mode, t.Status, t.Config,
		t.PricingID, t.BillingType, t.EstimatedCost, t.EstimatedUsage, resultJSON).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// GetByIDForUpdate locks the task row. Call within a transaction (used by
// taskservice.Cancel).
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
	return scanTask(row)
}

type ListOpts struct {
	Status string
	Type   models.TaskType
	Limit  int
	Offset int
}

func (r *TaskRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, opts ListOpts) ([]*models.Task, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE account_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR type = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, accountID, opts.Status, opts.Type, limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.pool.QueryRow(ctx, `
		SELECT count(*) FROM tasks WHERE account_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR type = $3)
	`, accountID, opts.Status, opts.Type).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ClaimPending is the main loop's claim step (spec §4.6): select up to
// limit pending, eligible-for-retry rows with SKIP LOCKED, move them to
// processing, and return the claimed rows. Runs in its own short
// transaction; callers execute tasks after it returns, holding no lock.
func (r *TaskRepo) ClaimPending(ctx context.Context, limit int) ([]*models.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE tasks SET
			status = 'processing',
			started_at = COALESCE(started_at, now()),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, limit)
	if err != nil {
		return nil, err
	}
	claimed, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ClaimAsyncForPoll selects up to limit processing, async-mode tasks that
// already have an external_task_id, using SKIP LOCKED so concurrent
// replicas partition the in-flight set. No column is written here; the
// lock is released as soon as the selecting transaction commits.
func (r *TaskRepo) ClaimAsyncForPoll(ctx context.Context, limit int) ([]*models.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'processing' AND mode = 'async' AND external_task_id IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	claimed, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimTimedOut selects processing tasks whose heartbeat (updated_at) is
// older than the category-appropriate threshold.
func (r *TaskRepo) ClaimTimedOut(ctx context.Context, syncTimeout, asyncTimeout time.Duration, limit int) ([]*models.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'processing'
			AND (
				(mode = 'sync' AND updated_at < now() - $1::interval) OR
				(mode = 'async' AND updated_at < now() - $2::interval)
			)
		ORDER BY updated_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, syncTimeout.String(), asyncTimeout.String(), limit)
	if err != nil {
		return nil, err
	}
	claimed, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat bumps updated_at for an in-flight async task, guarded so a
// task that already concluded is left untouched.
func (r *TaskRepo) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET updated_at = now() WHERE id = $1 AND status = 'processing'
	`, id)
	return err
}

// SetExternalID records the provider's externalTaskId for an async
// submission and stamps started_at. Guarded on status = 'processing' so a
// task that concluded between Provider.execute returning and this write
// is left alone (the executor still owns the row at this point, so in
// practice the guard never trips, but it costs nothing to assert it).
func (r *TaskRepo) SetExternalID(ctx context.Context, id uuid.UUID, externalTaskID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET external_task_id = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, externalTaskID)
	return err
}

// CompleteTx performs the state-gated transition to completed. Returns
// whether this call concluded the task (false means another worker
// already concluded it and the caller must abort silently).
func (r *TaskRepo) CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actualCost int64, actualUsage float64, result []models.Output) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET
			status = 'completed',
			completed_at = now(),
			actual_cost = $2,
			actual_usage = $3,
			result = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, actualCost, actualUsage, resultJSON)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailTx performs the state-gated transition to failed.
func (r *TaskRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'failed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RetryTx resets a task to pending for another attempt. clearExternalID
// is true for sync-mode timeout retries and async submit-failure retries
// (re-execute from scratch) and false for async-mode query-failure/timeout
// retries (resume polling the same upstream job).
func (r *TaskRepo) RetryTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, retryCount int, nextRetryAt time.Time, clearExternalID bool) (bool, error) {
	var tag pgx.CommandTag
	var err error
	if clearExternalID {
		tag, err = tx.Exec(ctx, `
			UPDATE tasks SET status = 'pending', retry_count = $2, next_retry_at = $3, external_task_id = NULL, updated_at = now()
			WHERE id = $1 AND status = 'processing'
		`, id, retryCount, nextRetryAt)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE tasks SET status = 'pending', retry_count = $2, next_retry_at = $3, updated_at = now()
			WHERE id = $1 AND status = 'processing'
		`, id, retryCount, nextRetryAt)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CancelTx performs the state-gated transition out of pending, the only
// status cancellation is allowed from.
func (r *TaskRepo) CancelTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
