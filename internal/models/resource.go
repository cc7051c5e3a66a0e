package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResourceType enumerates the kinds of media a TaskResource can point to.
const (
	ResourceImage   = "image"
	ResourceVideo   = "video"
	ResourceAudio   = "audio"
	ResourceText    = "text"
	ResourceModel3D = "model_3d"
)

// TaskResource is an input or output artifact attached to a Task. Inputs
// are written at creation; outputs are written by the Handler on
// completion, after upload to durable storage.
type TaskResource struct {
	ID           uuid.UUID       `json:"id"`
	TaskID       uuid.UUID       `json:"task_id"`
	ResourceType string          `json:"resource_type"`
	IsInput      bool            `json:"is_input"`
	URL          string          `json:"url"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
