// Package provider defines the Provider contract (spec §4.2) and a
// registry keyed by models.TaskType. Providers are pure adapters to
// third-party generation APIs: they must not touch the database and must
// tolerate repeated calls with the same externalTaskId, the same
// tolerance the teacher's Dispatcher assumes of worker agents it retries
// against (internal/services/dispatcher.go).
package provider

import (
	"context"
	"fmt"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ExecuteResult is returned by Provider.Execute. Synchronous providers
// populate Outputs and ActualUsage; asynchronous providers populate
// ExternalTaskID and leave Outputs empty.
type ExecuteResult struct {
	Success        bool
	ExternalTaskID string
	Outputs        []models.Output
	ActualUsage    float64
	Err            error
	ErrorCode      string
	Retryable      bool
}

// QueryStatus is the status reported by Provider.Query for an in-flight
// asynchronous task.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
)

// QueryResult is returned by Provider.Query.
type QueryResult struct {
	Status      QueryStatus
	Outputs     []models.Output
	ActualUsage float64
	Err         error
	ErrorCode   string
	Retryable   bool
}

// Provider is the contract every task type implements against a
// third-party generation API.
type Provider interface {
	TaskType() models.TaskType
	Mode() models.Mode
	// Execute submits the task. Synchronous providers block until the
	// result is ready; asynchronous providers return once the upstream job
	// is accepted, with ExternalTaskID set.
	Execute(ctx context.Context, task *models.Task, inputs []*models.TaskResource) (*ExecuteResult, error)
	// Query polls an asynchronous task's upstream status. Providers whose
	// Mode is ModeSync are never called here.
	Query(ctx context.Context, task *models.Task) (*QueryResult, error)
}

// ErrNotRegistered is returned by Registry.Get for a task type with no
// registered Provider.
var ErrNotRegistered = fmt.Errorf("provider: no provider registered")

// Registry looks up a Provider by task type. Construction validates that
// every catalog entry in models.AllTaskTypes has a registered provider
// whose Mode matches the catalog, so a missing or mismatched registration
// fails at startup rather than at request time.
type Registry struct {
	providers map[models.TaskType]Provider
}

// NewRegistry builds a Registry from the given providers and validates it
// against the full task type catalog.
func NewRegistry(providers ...Provider) (*Registry, error) {
	reg := &Registry{providers: make(map[models.TaskType]Provider, len(providers))}
	for _, p := range providers {
		if _, exists := reg.providers[p.TaskType()]; exists {
			return nil, fmt.Errorf("provider: duplicate registration for task type %q", p.TaskType())
		}
		reg.providers[p.TaskType()] = p
	}
	for _, tt := range models.AllTaskTypes() {
		p, ok := reg.providers[tt]
		if !ok {
			return nil, fmt.Errorf("provider: task type %q has no registered provider", tt)
		}
		wantMode, err := tt.Mode()
		if err != nil {
			return nil, err
		}
		if p.Mode() != wantMode {
			return nil, fmt.Errorf("provider: task type %q registered with mode %q, catalog requires %q", tt, p.Mode(), wantMode)
		}
	}
	return reg, nil
}

// Get returns the Provider registered for taskType.
func (r *Registry) Get(taskType models.TaskType) (Provider, error) {
	p, ok := r.providers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, taskType)
	}
	return p, nil
}
