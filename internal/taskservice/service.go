// Package taskservice implements spec §4.4's public API: create (with
// pre-charge), cancel, list, get. Grounded on the teacher's
// TaskHandler.CreateTask (validate → lock credits in a tx → persist →
// commit) and jobs.service.CreateJob, generalized from the teacher's HTTP
// handler doing its own transaction management to a plain service method
// any caller (HTTP handler, CLI, test) can call directly.
package taskservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/billing"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/store"
)

// ErrTaskNotFound is returned by Cancel/Get for an unknown task id, per
// spec §7's error taxonomy.
var ErrTaskNotFound = errors.New("taskservice: task not found")

// ListOpts is an alias of store.ListOpts so callers of this package read
// and write list filters without importing internal/store themselves.
type ListOpts = store.ListOpts

// TaskRepo is the minimal task repository Service needs.
type TaskRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	CancelTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, opts ListOpts) ([]*models.Task, int, error)
}

// ResourceRepo is the minimal resource repository Service needs, to
// persist input resources at creation and read both inputs and outputs
// back for Get.
type ResourceRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, res *models.TaskResource) error
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResource, error)
}

// LogRepo appends the "created" TaskLog row Create writes.
type LogRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.TaskLog) error
}

// Billing is the subset of billing.Service Service needs.
type Billing interface {
	Estimate(ctx context.Context, taskType models.TaskType, in billing.EstimateInputs) (*billing.Estimate, error)
	Charge(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, amount int64) error
	Refund(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost int64) error
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ConfigValidator hard-rejects a task type's config payload before it is
// ever charged or persisted. Implemented by internal/validate.Validator;
// nil means no schema-based validation is configured.
type ConfigValidator interface {
	ValidateConfig(taskType models.TaskType, config json.RawMessage) error
}

// Service implements spec §4.4.
type Service struct {
	tasks     TaskRepo
	resources ResourceRepo
	logs      LogRepo
	billing   Billing
	db        TxRunner
	validator ConfigValidator
}

func NewService(tasks TaskRepo, resources ResourceRepo, logs LogRepo, billing Billing, db TxRunner, validator ConfigValidator) *Service {
	return &Service{tasks: tasks, resources: resources, logs: logs, billing: billing, db: db, validator: validator}
}

// InputResource describes one input artifact supplied at task creation.
type InputResource struct {
	ResourceType string
	URL          string
	Metadata     []byte
}

// CreateParams is the create() argument spec §6 describes.
type CreateParams struct {
	AccountID         uuid.UUID
	Name              string
	Type              models.TaskType
	Config            []byte
	Inputs            []InputResource
	EstimatedDuration float64
	EstimatedCount    float64
}

// Create implements spec §4.4's create: estimate cost (a read, done before
// the transaction), then insert the task pending, debit the account,
// insert input resources, and append a "created" log — all inside one
// transaction, so either a debited task exists or nothing changed.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Task, error) {
	category, err := params.Type.Category()
	if err != nil {
		return nil, err
	}
	mode, err := params.Type.Mode()
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		if err := s.validator.ValidateConfig(params.Type, params.Config); err != nil {
			return nil, err
		}
	}

	estimate, err := s.billing.Estimate(ctx, params.Type, billing.EstimateInputs{
		Duration: params.EstimatedDuration,
		Count:    params.EstimatedCount,
	})
	if err != nil {
		return nil, fmt.Errorf("taskservice: estimate: %w", err)
	}

	task := &models.Task{
		ID:             uuid.New(),
		AccountID:      params.AccountID,
		Name:           params.Name,
		Type:           params.Type,
		Category:       category,
		Mode:           mode,
		Status:         models.StatusPending,
		Config:         params.Config,
		PricingID:      estimate.PricingID,
		BillingType:    models.BillingPerUnit,
		EstimatedCost:  estimate.Cost,
		EstimatedUsage: estimate.Usage,
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := s.billing.Charge(ctx, tx, params.AccountID, task.ID, estimate.Cost); err != nil {
			return err
		}
		for _, in := range params.Inputs {
			res := &models.TaskResource{
				ID:           uuid.New(),
				TaskID:       task.ID,
				ResourceType: in.ResourceType,
				IsInput:      true,
				URL:          in.URL,
				Metadata:     in.Metadata,
			}
			if err := s.resources.CreateTx(ctx, tx, res); err != nil {
				return fmt.Errorf("insert input resource: %w", err)
			}
		}
		return s.logs.CreateTx(ctx, tx, &models.TaskLog{
			ID:      uuid.New(),
			TaskID:  task.ID,
			Level:   models.LogInfo,
			Message: "task created",
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel implements spec §4.4's cancel: lock the task row, reject unless
// pending, flip to cancelled inside the transaction, then refund and log
// outside it (the refund touches the account row, which the task-row
// lock does not cover).
func (s *Service) Cancel(ctx context.Context, taskID uuid.UUID) error {
	var task *models.Task
	var cancelled bool

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTaskNotFound
			}
			return err
		}
		task = t
		if task.Status != models.StatusPending {
			// Cancellation races with the scheduler claiming the same
			// row; spec §5 scenario 7 allows exactly one winner, and a
			// non-pending task here means the scheduler won.
			return nil
		}
		won, err := s.tasks.CancelTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		cancelled = won
		return nil
	})
	if err != nil {
		return err
	}
	if !cancelled {
		return nil
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.billing.Refund(ctx, tx, task.AccountID, task.ID, task.EstimatedCost); err != nil {
			return err
		}
		return s.logs.CreateTx(ctx, tx, &models.TaskLog{
			ID:      uuid.New(),
			TaskID:  task.ID,
			Level:   models.LogInfo,
			Message: "task cancelled",
		})
	})
}

// TaskWithResources is the composite Get returns.
type TaskWithResources struct {
	Task    *models.Task
	Inputs  []*models.TaskResource
	Outputs []*models.TaskResource
}

// Get implements spec §4.4's get: a straightforward read of the task plus
// its input and output resources.
func (s *Service) Get(ctx context.Context, taskID uuid.UUID) (*TaskWithResources, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	all, err := s.resources.ListByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var inputs, outputs []*models.TaskResource
	for _, r := range all {
		if r.IsInput {
			inputs = append(inputs, r)
		} else {
			outputs = append(outputs, r)
		}
	}
	return &TaskWithResources{Task: task, Inputs: inputs, Outputs: outputs}, nil
}

// List implements spec §4.4's list.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, opts ListOpts) ([]*models.Task, int, error) {
	return s.tasks.ListByAccount(ctx, accountID, opts)
}
