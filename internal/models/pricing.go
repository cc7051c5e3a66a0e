package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingType selects how usage is converted to a minor-unit cost.
// Only BillingPerUnit is implemented; any other value read from a
// pricing_configs row is a ConfigurationError.
type BillingType string

const (
	BillingPerUnit  BillingType = "per_unit"
	BillingPerToken BillingType = "per_token"
)

// PricingConfig is a snapshot-by-reference: tasks store PricingID, not a
// copied price, so changing a row mid-flight retroactively affects
// settlement (see DESIGN.md "pricing snapshot" open question).
type PricingConfig struct {
	ID          uuid.UUID   `json:"id"`
	TaskType    TaskType    `json:"task_type"`
	BillingType BillingType `json:"billing_type"`
	UnitPrice   float64     `json:"unit_price"`
	MinUnit     float64     `json:"min_unit"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
