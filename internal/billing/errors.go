package billing

import (
	"errors"
	"fmt"
)

// ConfigurationError signals a pricing_configs row that is missing or
// cannot be billed with the implemented billing_type. It is distinct from
// InsufficientBalanceError: one is an operator mistake, the other is
// ordinary account state.
type ConfigurationError struct {
	TaskType string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("billing: task type %q misconfigured: %s", e.TaskType, e.Reason)
}

// InsufficientBalanceError is returned by Charge when the account cannot
// cover the requested amount.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("billing: insufficient balance: required %d, available %d", e.Required, e.Available)
}

// ErrAccountNotFound is returned by Charge/Refund/Settle when the account
// row does not exist.
var ErrAccountNotFound = errors.New("billing: account not found")

// IsInsufficientBalance reports whether err is an InsufficientBalanceError.
func IsInsufficientBalance(err error) bool {
	var target *InsufficientBalanceError
	return errors.As(err, &target)
}
