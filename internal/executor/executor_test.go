package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/inaiurai/mediatasks/internal/handler"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/provider"
)

// ---------------------------------------------------------------------
// In-memory fakes, in the style of the handler package's tests.
// ---------------------------------------------------------------------

type fakeProvider struct {
	mode        models.Mode
	execResult  *provider.ExecuteResult
	execErr     error
	queryResult *provider.QueryResult
	queryErr    error
	execCalls   int
	queryCalls  int
}

func (f *fakeProvider) TaskType() models.TaskType { return models.TaskTypeVideoLipsync }
func (f *fakeProvider) Mode() models.Mode         { return f.mode }
func (f *fakeProvider) Execute(_ context.Context, _ *models.Task, _ []*models.TaskResource) (*provider.ExecuteResult, error) {
	f.execCalls++
	return f.execResult, f.execErr
}
func (f *fakeProvider) Query(_ context.Context, _ *models.Task) (*provider.QueryResult, error) {
	f.queryCalls++
	return f.queryResult, f.queryErr
}

type fakeProviderRegistry struct {
	provider provider.Provider
	err      error
}

func (f *fakeProviderRegistry) Get(models.TaskType) (provider.Provider, error) { return f.provider, f.err }

type fakeHandler struct {
	mu              sync.Mutex
	completionCalls int
	failureCalls    int
	lastOutputs     []models.Output
	lastUsage       *float64
	lastFailure     handler.FailureInput
}

func (f *fakeHandler) TaskType() models.TaskType { return models.TaskTypeVideoLipsync }
func (f *fakeHandler) HandleCompletion(_ context.Context, _ *models.Task, outputs []models.Output, actualUsage *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completionCalls++
	f.lastOutputs = outputs
	f.lastUsage = actualUsage
	return nil
}
func (f *fakeHandler) HandleFailure(_ context.Context, _ *models.Task, in handler.FailureInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failureCalls++
	f.lastFailure = in
	return nil
}

type fakeHandlerRegistry struct {
	handler handler.Handler
	err     error
}

func (f *fakeHandlerRegistry) Get(models.TaskType) (handler.Handler, error) { return f.handler, f.err }

type fakeResources struct {
	inputs []*models.TaskResource
}

func (f *fakeResources) ListInputsByTaskID(context.Context, uuid.UUID) ([]*models.TaskResource, error) {
	return f.inputs, nil
}

type fakeTasks struct {
	mu                  sync.Mutex
	setExternalIDCalls  int
	lastExternalID      string
	heartbeatCalls      int
}

func (f *fakeTasks) SetExternalID(_ context.Context, _ uuid.UUID, externalTaskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setExternalIDCalls++
	f.lastExternalID = externalTaskID
	return nil
}
func (f *fakeTasks) Heartbeat(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatCalls++
	return nil
}

// ---------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------

func TestExecuteTask_AsyncReentryFastPathSkipsSubmit(t *testing.T) {
	extID := "ext-1"
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync, ExternalTaskID: &extID}
	prov := &fakeProvider{mode: models.ModeAsync}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if prov.execCalls != 0 {
		t.Errorf("fast path should not call Execute again, got %d calls", prov.execCalls)
	}
}

func TestExecuteTask_SyncSuccessCallsCompletion(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeSync}
	prov := &fakeProvider{mode: models.ModeSync, execResult: &provider.ExecuteResult{
		Success: true,
		Outputs: []models.Output{{URL: "https://ext/out.png"}},
		ActualUsage: 4,
	}}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.completionCalls != 1 {
		t.Fatalf("expected HandleCompletion once, got %d", h.completionCalls)
	}
	if h.lastUsage == nil || *h.lastUsage != 4 {
		t.Errorf("actual usage not threaded through: %+v", h.lastUsage)
	}
}

func TestExecuteTask_AsyncSubmitSuccessSetsExternalIDWithoutConcluding(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, execResult: &provider.ExecuteResult{Success: true, ExternalTaskID: "ext-42"}}
	h := &fakeHandler{}
	tasks := &fakeTasks{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, tasks, nil)

	if err := e.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if tasks.setExternalIDCalls != 1 || tasks.lastExternalID != "ext-42" {
		t.Errorf("expected SetExternalID(ext-42), got calls=%d id=%q", tasks.setExternalIDCalls, tasks.lastExternalID)
	}
	if h.completionCalls != 0 {
		t.Errorf("async submit must not conclude the task, HandleCompletion called %d times", h.completionCalls)
	}
}

func TestExecuteTask_SubmitFailureDelegatesToHandleFailure(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, execResult: &provider.ExecuteResult{Success: false, Retryable: true}}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.failureCalls != 1 {
		t.Fatalf("expected HandleFailure once, got %d", h.failureCalls)
	}
	if h.lastFailure.Source != handler.FailureSubmit {
		t.Errorf("submit failure should report FailureSubmit, got %v", h.lastFailure.Source)
	}
}

func TestExecuteTask_ProviderErrorIsRetryableSubmitFailure(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeSync}
	prov := &fakeProvider{mode: models.ModeSync, execErr: errors.New("upstream boom")}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.failureCalls != 1 || !h.lastFailure.Retryable {
		t.Errorf("a provider error must be treated as a retryable submit failure, got %+v (calls=%d)", h.lastFailure, h.failureCalls)
	}
}

func TestExecuteTask_UnregisteredTaskTypeErrors(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Type: models.TaskType("unknown_type"), Mode: models.ModeSync}
	e := New(&fakeProviderRegistry{err: provider.ErrNotRegistered}, &fakeHandlerRegistry{err: handler.ErrNotRegistered}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.ExecuteTask(context.Background(), task); err == nil {
		t.Fatal("expected an error for an unregistered task type")
	}
}

func TestQueryAsyncTask_PendingBumpsHeartbeat(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, queryResult: &provider.QueryResult{Status: provider.QueryStatusPending}}
	h := &fakeHandler{}
	tasks := &fakeTasks{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, tasks, nil)

	if err := e.QueryAsyncTask(context.Background(), task); err != nil {
		t.Fatalf("QueryAsyncTask: %v", err)
	}
	if tasks.heartbeatCalls != 1 {
		t.Errorf("expected a heartbeat bump, got %d", tasks.heartbeatCalls)
	}
	if h.completionCalls != 0 || h.failureCalls != 0 {
		t.Errorf("pending status must not conclude the task")
	}
}

func TestQueryAsyncTask_CompletedCallsHandleCompletion(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, queryResult: &provider.QueryResult{
		Status: provider.QueryStatusCompleted,
		Outputs: []models.Output{{URL: "https://ext/out.mp4"}},
	}}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.QueryAsyncTask(context.Background(), task); err != nil {
		t.Fatalf("QueryAsyncTask: %v", err)
	}
	if h.completionCalls != 1 {
		t.Fatalf("expected HandleCompletion once, got %d", h.completionCalls)
	}
}

func TestQueryAsyncTask_FailedDelegatesToHandleFailureWithQuerySource(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, queryResult: &provider.QueryResult{Status: provider.QueryStatusFailed, Retryable: true}}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.QueryAsyncTask(context.Background(), task); err != nil {
		t.Fatalf("QueryAsyncTask: %v", err)
	}
	if h.failureCalls != 1 || h.lastFailure.Source != handler.FailureQuery {
		t.Errorf("expected one HandleFailure with FailureQuery source, got calls=%d source=%v", h.failureCalls, h.lastFailure.Source)
	}
}

func TestQueryAsyncTask_ProviderErrorIsRetryableQueryFailure(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Mode: models.ModeAsync}
	prov := &fakeProvider{mode: models.ModeAsync, queryErr: errors.New("timeout")}
	h := &fakeHandler{}
	e := New(&fakeProviderRegistry{provider: prov}, &fakeHandlerRegistry{handler: h}, &fakeResources{}, &fakeTasks{}, nil)

	if err := e.QueryAsyncTask(context.Background(), task); err != nil {
		t.Fatalf("QueryAsyncTask: %v", err)
	}
	if h.failureCalls != 1 || h.lastFailure.Source != handler.FailureQuery || !h.lastFailure.Retryable {
		t.Errorf("provider query error should be a retryable query failure, got %+v", h.lastFailure)
	}
}
