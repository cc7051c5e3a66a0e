package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ledger categories. The ledger is the source of truth for monetary
// history; Account.Balance is a materialized sum.
const (
	TxTaskCharge = "task_charge"
	TxTaskRefund = "task_refund"
)

// Transaction is one append-only ledger row. balance_after must always
// equal balance_before + amount and must match the account's post-update
// balance (enforced by billing.Service, never by the caller).
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Category      string          `json:"category"`
	Amount        int64           `json:"amount"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	TaskID        *uuid.UUID      `json:"task_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
