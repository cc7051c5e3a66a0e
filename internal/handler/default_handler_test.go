package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ---------------------------------------------------------------------
// In-memory fakes, in the style of the teacher's escrow_test.go mocks.
// Since fakeTxRunner calls fn(nil), none of these fakes dereference tx.
// ---------------------------------------------------------------------

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeTaskRepo struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	completeCalls int
	failCalls     int
	retryCalls    int
	lastRetryCount int
	lastClearedExternalID bool
}

func newFakeTaskRepo(taskID uuid.UUID, status string) *fakeTaskRepo {
	return &fakeTaskRepo{statuses: map[uuid.UUID]string{taskID: status}}
}

func (f *fakeTaskRepo) CompleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID, actualCost int64, actualUsage float64, result []models.Output) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.statuses[id] != models.StatusProcessing {
		return false, nil
	}
	f.statuses[id] = models.StatusCompleted
	return true, nil
}

func (f *fakeTaskRepo) FailTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCalls++
	if f.statuses[id] != models.StatusProcessing {
		return false, nil
	}
	f.statuses[id] = models.StatusFailed
	return true, nil
}

func (f *fakeTaskRepo) RetryTx(_ context.Context, _ pgx.Tx, id uuid.UUID, retryCount int, nextRetryAt time.Time, clearExternalID bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCalls++
	f.lastRetryCount = retryCount
	f.lastClearedExternalID = clearExternalID
	if f.statuses[id] != models.StatusProcessing {
		return false, nil
	}
	f.statuses[id] = models.StatusPending
	return true, nil
}

func (f *fakeTaskRepo) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeResourceRepo struct {
	mu    sync.Mutex
	saved []*models.TaskResource
}

func (f *fakeResourceRepo) BulkCreate(_ context.Context, _ pgx.Tx, resources []*models.TaskResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, resources...)
	return nil
}

type fakeLogRepo struct {
	mu   sync.Mutex
	rows []*models.TaskLog
}

func (f *fakeLogRepo) CreateTx(_ context.Context, _ pgx.Tx, l *models.TaskLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, l)
	return nil
}

type fakePricingRepo struct {
	unitPrice float64
}

func (f *fakePricingRepo) GetByID(_ context.Context, _ uuid.UUID) (*models.PricingConfig, error) {
	return &models.PricingConfig{UnitPrice: f.unitPrice}, nil
}

type fakeBilling struct {
	mu            sync.Mutex
	settleCalls   int
	refundCalls   int
	lastEstimated int64
	lastActual    int64
}

func (f *fakeBilling) Settle(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, estimatedCost, actualCost int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleCalls++
	f.lastEstimated = estimatedCost
	f.lastActual = actualCost
	return nil
}

func (f *fakeBilling) Refund(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	return nil
}

type fakeUploader struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeUploader) Put(_ context.Context, key, sourceURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	return "https://cdn.example/" + key, nil
}

// ---------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------

func TestHandleCompletion_UploadsAndSettles(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{
		ID:            taskID,
		AccountID:     uuid.New(),
		Type:          models.TaskTypeImageTxt2Img,
		Category:      models.CategoryImage,
		Mode:          models.ModeSync,
		Status:        models.StatusProcessing,
		EstimatedCost: 100,
		EstimatedUsage: 10,
	}

	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	resources := &fakeResourceRepo{}
	logs := &fakeLogRepo{}
	pricing := &fakePricingRepo{unitPrice: 5}
	billing := &fakeBilling{}
	uploader := &fakeUploader{}

	h := NewDefaultHandler(models.TaskTypeImageTxt2Img, 3, tasks, resources, logs, pricing, billing, uploader, fakeTxRunner{}, nil)

	usage := 8.0
	err := h.HandleCompletion(context.Background(), task, []models.Output{{URL: "https://upstream/out.png"}}, &usage)
	if err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	if tasks.status(taskID) != models.StatusCompleted {
		t.Errorf("task status: got %q, want completed", tasks.status(taskID))
	}
	if len(resources.saved) != 1 {
		t.Fatalf("resources saved: got %d, want 1", len(resources.saved))
	}
	if len(uploader.puts) != 1 {
		t.Fatalf("uploads: got %d, want 1", len(uploader.puts))
	}
	if billing.settleCalls != 1 {
		t.Fatalf("settle calls: got %d, want 1", billing.settleCalls)
	}
	if billing.lastActual != 40 { // 8 * 5 = 40
		t.Errorf("actual cost: got %d, want 40", billing.lastActual)
	}
	if len(logs.rows) != 1 {
		t.Errorf("log rows: got %d, want 1", len(logs.rows))
	}
}

func TestHandleCompletion_NoActualUsageFallsBackToEstimate(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{
		ID: taskID, AccountID: uuid.New(), Category: models.CategoryAudio,
		Status: models.StatusProcessing, EstimatedCost: 70, EstimatedUsage: 7,
	}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeAudioTTS, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleCompletion(context.Background(), task, []models.Output{{URL: "https://upstream/a.wav"}}, nil)
	if err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	if billing.lastActual != 70 {
		t.Errorf("actual cost should fall back to estimate: got %d, want 70", billing.lastActual)
	}
}

func TestHandleCompletion_AlreadyConcludedIsSilent(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Category: models.CategoryImage, Status: models.StatusCompleted, EstimatedCost: 10}
	tasks := newFakeTaskRepo(taskID, models.StatusCompleted) // already concluded by another worker
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeImageTxt2Img, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleCompletion(context.Background(), task, []models.Output{{URL: "https://upstream/out.png"}}, nil)
	if err != nil {
		t.Fatalf("HandleCompletion should abort silently, got error: %v", err)
	}
	if billing.settleCalls != 0 {
		t.Errorf("settle should not be called when another worker already concluded the task")
	}
}

func TestHandleFailure_SyncTaskNeverRetries(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Mode: models.ModeSync, Status: models.StatusProcessing, EstimatedCost: 50, RetryCount: 0}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeImageTxt2Img, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleFailure(context.Background(), task, FailureInput{Err: nil, Retryable: true})
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if tasks.status(taskID) != models.StatusFailed {
		t.Errorf("sync task should go straight to failed: got %q", tasks.status(taskID))
	}
	if billing.refundCalls != 1 {
		t.Errorf("expected full refund on sync failure, got %d calls", billing.refundCalls)
	}
	if tasks.retryCalls != 0 {
		t.Errorf("sync task must never use the retry path, got %d retry calls", tasks.retryCalls)
	}
}

func TestHandleFailure_AsyncRetryableRetries(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Mode: models.ModeAsync, Status: models.StatusProcessing, EstimatedCost: 50, RetryCount: 1}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeVideoLipsync, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleFailure(context.Background(), task, FailureInput{Retryable: true, Source: FailureQuery})
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if tasks.status(taskID) != models.StatusPending {
		t.Errorf("retryable async failure should return task to pending: got %q", tasks.status(taskID))
	}
	if tasks.lastRetryCount != 2 {
		t.Errorf("retry count: got %d, want 2", tasks.lastRetryCount)
	}
	if tasks.lastClearedExternalID {
		t.Errorf("a query failure must preserve external_task_id")
	}
	if billing.refundCalls != 0 {
		t.Errorf("retry must not refund")
	}
}

func TestHandleFailure_AsyncSubmitFailureClearsExternalID(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Mode: models.ModeAsync, Status: models.StatusProcessing, EstimatedCost: 50, RetryCount: 0}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	h := NewDefaultHandler(models.TaskTypeVideoLipsync, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, &fakeBilling{}, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleFailure(context.Background(), task, FailureInput{Retryable: true, Source: FailureSubmit})
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if !tasks.lastClearedExternalID {
		t.Errorf("a submit failure must clear external_task_id so the main loop resubmits")
	}
}

func TestHandleFailure_ExhaustedRetriesFailsAndRefunds(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Mode: models.ModeAsync, Status: models.StatusProcessing, EstimatedCost: 50, RetryCount: 3}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeVideoLipsync, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleFailure(context.Background(), task, FailureInput{Retryable: true, Source: FailureQuery})
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if tasks.status(taskID) != models.StatusFailed {
		t.Errorf("exhausted retries should terminally fail: got %q", tasks.status(taskID))
	}
	if billing.refundCalls != 1 {
		t.Errorf("exhausted retries should refund")
	}
}

func TestHandleFailure_NonRetryableFailsImmediately(t *testing.T) {
	taskID := uuid.New()
	task := &models.Task{ID: taskID, AccountID: uuid.New(), Mode: models.ModeAsync, Status: models.StatusProcessing, EstimatedCost: 50, RetryCount: 0}
	tasks := newFakeTaskRepo(taskID, models.StatusProcessing)
	billing := &fakeBilling{}
	h := NewDefaultHandler(models.TaskTypeVideoLipsync, 3, tasks, &fakeResourceRepo{}, &fakeLogRepo{}, &fakePricingRepo{}, billing, &fakeUploader{}, fakeTxRunner{}, nil)

	err := h.HandleFailure(context.Background(), task, FailureInput{Retryable: false, Source: FailureSubmit})
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if tasks.status(taskID) != models.StatusFailed {
		t.Errorf("non-retryable failure should fail immediately: got %q", tasks.status(taskID))
	}
	if billing.refundCalls != 1 {
		t.Errorf("non-retryable failure should refund")
	}
}

func TestResolveExtension_URLPathTakesPriority(t *testing.T) {
	h := &DefaultHandler{}
	ext := h.resolveExtension(context.Background(), "https://upstream.example/out/file.PNG?x=1", models.ResourceVideo)
	if ext != ".png" {
		t.Errorf("resolveExtension() = %q, want .png from URL path (lowercased)", ext)
	}
}

func TestResolveExtension_FallsBackToResourceTypeDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	h := &DefaultHandler{probeClient: server.Client()}
	cases := []struct {
		resourceType string
		want         string
	}{
		{models.ResourceVideo, ".mp4"},
		{models.ResourceImage, ".jpg"},
		{models.ResourceAudio, ".mp3"},
		{models.ResourceModel3D, ".obj"},
		{models.ResourceText, ".bin"},
	}
	for _, c := range cases {
		got := h.resolveExtension(context.Background(), server.URL+"/generate", c.resourceType)
		if got != c.want {
			t.Errorf("resolveExtension(%s) = %q, want %q", c.resourceType, got, c.want)
		}
	}
}

func TestResolveExtension_UsesProbedContentTypeWhenURLHasNoExtension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg; charset=binary")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := &DefaultHandler{probeClient: server.Client()}
	ext := h.resolveExtension(context.Background(), server.URL+"/generate", models.ResourceImage)
	if ext != ".mp3" {
		t.Errorf("resolveExtension() = %q, want .mp3 from probed Content-Type", ext)
	}
}
