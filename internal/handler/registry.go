package handler

import (
	"fmt"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ErrNotRegistered is returned by Registry.Get for a task type with no
// registered Handler.
var ErrNotRegistered = fmt.Errorf("handler: no handler registered")

// Registry looks up a Handler by task type, validated against the full
// catalog at construction the same way provider.Registry is.
type Registry struct {
	handlers map[models.TaskType]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	reg := &Registry{handlers: make(map[models.TaskType]Handler, len(handlers))}
	for _, h := range handlers {
		if _, exists := reg.handlers[h.TaskType()]; exists {
			return nil, fmt.Errorf("handler: duplicate registration for task type %q", h.TaskType())
		}
		reg.handlers[h.TaskType()] = h
	}
	for _, tt := range models.AllTaskTypes() {
		if _, ok := reg.handlers[tt]; !ok {
			return nil, fmt.Errorf("handler: task type %q has no registered handler", tt)
		}
	}
	return reg, nil
}

func (r *Registry) Get(taskType models.TaskType) (Handler, error) {
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, taskType)
	}
	return h, nil
}
