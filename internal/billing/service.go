// Package billing implements cost estimation and the charge/settle/refund
// ledger operations described by the task lifecycle. The locking and
// ledger-row pattern is grounded on the teacher's internal/services
// EscrowService: lock the account row for update inside the caller's
// transaction, mutate balance, and append one immutable ledger row per
// movement.
package billing

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/models"
)

// AccountRepo is the minimal account repository Service needs.
type AccountRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error
}

// PricingRepo is the minimal pricing repository Service needs.
type PricingRepo interface {
	GetByTaskType(ctx context.Context, taskType models.TaskType) (*models.PricingConfig, error)
}

// TransactionRepo is the minimal ledger repository Service needs.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// Service implements spec §4.1's four billing operations.
type Service struct {
	accounts     AccountRepo
	pricing      PricingRepo
	transactions TransactionRepo
}

func NewService(accounts AccountRepo, pricing PricingRepo, transactions TransactionRepo) *Service {
	return &Service{accounts: accounts, pricing: pricing, transactions: transactions}
}

// Estimate result.
type Estimate struct {
	Cost      int64
	Usage     float64
	PricingID uuid.UUID
}

// EstimateInputs carries the optional usage hints the caller has at task
// creation time. Exactly one of Duration/Count is meaningful per
// category; callers populate what the task's category needs and leave the
// rest zero.
type EstimateInputs struct {
	Duration float64
	Count    float64
}

// Estimate computes cost and usage for a task type per spec §4.1:
// video/audio use max(duration, min_unit) * count; image uses
// max(count, min_unit). Cost is ceil(usage * unit_price).
func (s *Service) Estimate(ctx context.Context, taskType models.TaskType, in EstimateInputs) (*Estimate, error) {
	pricing, err := s.pricing.GetByTaskType(ctx, taskType)
	if err != nil {
		return nil, &ConfigurationError{TaskType: string(taskType), Reason: "no pricing configured"}
	}
	if pricing.BillingType != models.BillingPerUnit {
		return nil, &ConfigurationError{TaskType: string(taskType), Reason: "only per_unit billing is implemented"}
	}

	category, err := taskType.Category()
	if err != nil {
		return nil, &ConfigurationError{TaskType: string(taskType), Reason: err.Error()}
	}

	var usage float64
	switch category {
	case models.CategoryVideo, models.CategoryAudio:
		count := in.Count
		if count <= 0 {
			count = 1
		}
		single := math.Max(in.Duration, pricing.MinUnit)
		usage = single * count
	case models.CategoryImage:
		usage = math.Max(in.Count, pricing.MinUnit)
	default:
		return nil, &ConfigurationError{TaskType: string(taskType), Reason: "unhandled category " + string(category)}
	}

	cost := int64(math.Ceil(usage * pricing.UnitPrice))
	return &Estimate{Cost: cost, Usage: usage, PricingID: pricing.ID}, nil
}

// Charge locks the account row and debits amount, appending a task_charge
// ledger row. Must run inside tx.
func (s *Service) Charge(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, amount int64) error {
	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if acc.Balance < amount {
		return &InsufficientBalanceError{Required: amount, Available: acc.Balance}
	}
	newBalance := acc.Balance - amount
	if err := s.accounts.SetBalance(ctx, tx, accountID, newBalance); err != nil {
		return err
	}
	return s.transactions.CreateTx(ctx, tx, &models.Transaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Category:      models.TxTaskCharge,
		Amount:        -amount,
		BalanceBefore: acc.Balance,
		BalanceAfter:  newBalance,
		TaskID:        &taskID,
	})
}

// Settle reconciles estimated vs actual cost on successful completion.
// Under-collection (actual > estimated) is absorbed by policy and never
// back-charged; it is the caller's responsibility to log a warning when
// diff is negative, since Service has no logger of its own — see
// handler.DefaultHandler.HandleCompletion, which logs that warning before
// calling Settle. Over-collection refunds the difference and appends a
// task_refund ledger row.
func (s *Service) Settle(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost, actualCost int64) error {
	diff := estimatedCost - actualCost
	if diff <= 0 {
		return nil
	}
	return s.credit(ctx, tx, accountID, taskID, diff, models.TxTaskRefund)
}

// Refund credits estimatedCost back to the account on terminal failure or
// cancellation.
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost int64) error {
	if estimatedCost <= 0 {
		return nil
	}
	return s.credit(ctx, tx, accountID, taskID, estimatedCost, models.TxTaskRefund)
}

func (s *Service) credit(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, amount int64, category string) error {
	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	newBalance := acc.Balance + amount
	if err := s.accounts.SetBalance(ctx, tx, accountID, newBalance); err != nil {
		return err
	}
	return s.transactions.CreateTx(ctx, tx, &models.Transaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Category:      category,
		Amount:        amount,
		BalanceBefore: acc.Balance,
		BalanceAfter:  newBalance,
		TaskID:        &taskID,
	})
}
