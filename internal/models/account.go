package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds an integer credit balance in minor units. Balance never
// goes negative; every mutation is paired with a Transaction ledger row.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
