// Package handler implements the Handler contract (spec §4.3): what
// happens to a task's database state and billing ledger once a Provider
// concludes it, successfully or not. Grounded on the teacher's
// jobs.service.MarkJobCompleted/MarkJobFailed (settle-on-completion,
// refund-on-failure) and Dispatcher.refundAndFail/dispatchWithFallback
// for the retry-vs-terminal-fail branch.
package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/models"
)

// FailureSource distinguishes a Provider.Execute (submit) failure from a
// Provider.Query (poll) failure, which changes whether external_task_id
// is preserved across a retry.
type FailureSource int

const (
	// FailureSubmit means Provider.Execute failed; external_task_id is
	// cleared on retry so the main loop resubmits from scratch.
	FailureSubmit FailureSource = iota
	// FailureQuery means Provider.Query failed; external_task_id is kept
	// so the poll loop resumes against the same upstream job.
	FailureQuery
)

// FailureInput carries everything HandleFailure needs to decide the
// retry-vs-terminal-fail branch.
type FailureInput struct {
	Source    FailureSource
	Err       error
	ErrorCode string
	Retryable bool
}

// Handler reacts to a Provider concluding (or failing) a task.
type Handler interface {
	TaskType() models.TaskType
	HandleCompletion(ctx context.Context, task *models.Task, outputs []models.Output, actualUsage *float64) error
	HandleFailure(ctx context.Context, task *models.Task, in FailureInput) error
}

// TaskRepo is the minimal task repository Handler needs.
type TaskRepo interface {
	CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actualCost int64, actualUsage float64, result []models.Output) (bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	RetryTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, retryCount int, nextRetryAt time.Time, clearExternalID bool) (bool, error)
}

// ResourceRepo is the minimal resource repository Handler needs.
type ResourceRepo interface {
	BulkCreate(ctx context.Context, tx pgx.Tx, resources []*models.TaskResource) error
}

// LogRepo is the minimal log repository Handler needs.
type LogRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.TaskLog) error
}

// PricingRepo is the minimal pricing repository Handler needs, to recost
// actual usage against the task's snapshotted pricing row. Reading the
// snapshot never requires a lock, so this is not transaction-scoped.
type PricingRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PricingConfig, error)
}

// Billing is the minimal billing surface Handler needs.
type Billing interface {
	Settle(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost, actualCost int64) error
	Refund(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost int64) error
}

// Uploader is the durable storage collaborator Handler uses to move a
// Provider's output URL into long-lived storage.
type Uploader interface {
	Put(ctx context.Context, key, sourceURL string) (string, error)
}

// TxRunner runs fn inside a transaction, committing on success and
// rolling back otherwise. Handler owns its own transaction boundary
// because it is invoked directly by the executor, not from within an
// existing caller transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}
