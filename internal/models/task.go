package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task status enum. Terminal statuses never transition again.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether status is one of the three terminal states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Output is one produced artifact descriptor, stored in Task.Result and
// mirrored into a TaskResource row.
type Output struct {
	URL      string          `json:"url"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Task is the single source of truth for one request to invoke an
// external AI provider. Workers (scheduler loops) are stateless; every
// concluding write to this row is state-gated on the current Status.
type Task struct {
	ID       uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Type      TaskType  `json:"type"`
	Category  Category  `json:"category"`
	Mode      Mode      `json:"mode"`
	Status    string    `json:"status"`

	Config json.RawMessage `json:"config"`

	PricingID       uuid.UUID   `json:"pricing_id"`
	BillingType     BillingType `json:"billing_type"`
	EstimatedCost   int64       `json:"estimated_cost"`
	EstimatedUsage  float64     `json:"estimated_usage"`
	ActualCost      *int64      `json:"actual_cost,omitempty"`
	ActualUsage     *float64    `json:"actual_usage,omitempty"`

	ExternalTaskID *string    `json:"external_task_id,omitempty"`
	RetryCount     int        `json:"retry_count"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result []Output `json:"result"`
}
