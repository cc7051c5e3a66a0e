package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Log levels for TaskLog rows.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// TaskLog is an append-only structured event attached to a Task.
type TaskLog struct {
	ID        uuid.UUID       `json:"id"`
	TaskID    uuid.UUID       `json:"task_id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
