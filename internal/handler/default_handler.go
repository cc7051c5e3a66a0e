package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/backoff"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/obs"
)

// errAlreadyConcluded is an internal sentinel used to unwind a handler
// transaction without treating "another worker already concluded this
// task" as a failure.
var errAlreadyConcluded = errors.New("handler: task already concluded")

// DefaultHandler is the canonical Handler implementation spec §4.3
// describes. It is constructed once per task type (TaskType is a plain
// field, not a hardcoded branch) since the completion/failure logic does
// not vary by type; concrete Handlers would embed DefaultHandler to add
// alerting hooks the way the teacher's registry.Handler wraps its
// Service with HTTP concerns.
type DefaultHandler struct {
	taskType   models.TaskType
	maxRetries int
	tasks      TaskRepo
	resources  ResourceRepo
	logs       LogRepo
	pricing    PricingRepo
	billing    Billing
	uploader   Uploader
	db         TxRunner
	log        *slog.Logger

	// probeClient issues the Content-Type HEAD probe resolveExtension
	// falls back to. Nil means http.DefaultClient; tests set it to an
	// httptest server's client.
	probeClient *http.Client
}

// NewDefaultHandler constructs a DefaultHandler for taskType.
func NewDefaultHandler(
	taskType models.TaskType,
	maxRetries int,
	tasks TaskRepo,
	resources ResourceRepo,
	logs LogRepo,
	pricing PricingRepo,
	billing Billing,
	uploader Uploader,
	db TxRunner,
	log *slog.Logger,
) *DefaultHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DefaultHandler{
		taskType:   taskType,
		maxRetries: maxRetries,
		tasks:      tasks,
		resources:  resources,
		logs:       logs,
		pricing:    pricing,
		billing:    billing,
		uploader:   uploader,
		db:         db,
		log:        log,
	}
}

func (h *DefaultHandler) TaskType() models.TaskType { return h.taskType }

// HandleCompletion uploads each output, recosts actual usage against the
// task's pricing snapshot, and state-gates the transition to completed.
// Settlement only runs if this call actually won the transition.
func (h *DefaultHandler) HandleCompletion(ctx context.Context, task *models.Task, outputs []models.Output, actualUsage *float64) error {
	uploaded := make([]models.Output, len(outputs))
	resources := make([]*models.TaskResource, len(outputs))
	for i, out := range outputs {
		resourceType := resourceTypeForCategory(task.Category)
		ext := h.resolveExtension(ctx, out.URL, resourceType)
		key := outputKey(task, i, ext)
		storedURL, err := h.uploader.Put(ctx, key, out.URL)
		if err != nil {
			return fmt.Errorf("handler: upload output %d: %w", i, err)
		}
		uploaded[i] = models.Output{URL: storedURL, Metadata: out.Metadata}
		resources[i] = &models.TaskResource{
			ID:           uuid.New(),
			TaskID:       task.ID,
			ResourceType: resourceType,
			IsInput:      false,
			URL:          storedURL,
			Metadata:     out.Metadata,
		}
	}

	actualCost, usage, err := h.computeActualCost(ctx, task, actualUsage)
	if err != nil {
		return fmt.Errorf("handler: compute actual cost: %w", err)
	}
	if actualCost > task.EstimatedCost {
		// Under-collection: spec §4.1 says the platform absorbs this by
		// policy and never back-charges the account, but it must still be
		// logged so an operator can see pricing estimates drifting low.
		h.log.Warn("task under-collected, absorbing difference by policy",
			"task_id", task.ID, "estimated_cost", task.EstimatedCost, "actual_cost", actualCost)
	}

	err = h.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := h.resources.BulkCreate(ctx, tx, resources); err != nil {
			return fmt.Errorf("handler: persist output resources: %w", err)
		}
		won, err := h.tasks.CompleteTx(ctx, tx, task.ID, actualCost, usage, uploaded)
		if err != nil {
			return fmt.Errorf("handler: complete transition: %w", err)
		}
		if !won {
			// Another worker already concluded this task; abort the whole
			// transaction per spec §4.3 step 4 rather than double-settle.
			return errAlreadyConcluded
		}
		if err := h.billing.Settle(ctx, tx, task.AccountID, task.ID, task.EstimatedCost, actualCost); err != nil {
			return fmt.Errorf("handler: settle: %w", err)
		}
		return h.logs.CreateTx(ctx, tx, &models.TaskLog{
			ID:      uuid.New(),
			TaskID:  task.ID,
			Level:   models.LogInfo,
			Message: "task completed",
		})
	})
	if errors.Is(err, errAlreadyConcluded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("handler: completion tx: %w", err)
	}

	obs.TasksCompleted.Inc()
	h.log.Info("task completed", "task_id", task.ID, "actual_cost", actualCost)
	return nil
}

// computeActualCost implements spec §4.3 step 2: ceil(actualUsage *
// unit_price) when actualUsage is known, falling back to the task's
// estimate otherwise.
func (h *DefaultHandler) computeActualCost(ctx context.Context, task *models.Task, actualUsage *float64) (int64, float64, error) {
	if actualUsage == nil {
		return task.EstimatedCost, task.EstimatedUsage, nil
	}
	pricing, err := h.pricing.GetByID(ctx, task.PricingID)
	if err != nil {
		return 0, 0, err
	}
	cost := int64(math.Ceil(*actualUsage * pricing.UnitPrice))
	return cost, *actualUsage, nil
}

// HandleFailure implements spec §4.3's retry/terminal-fail branch.
func (h *DefaultHandler) HandleFailure(ctx context.Context, task *models.Task, in FailureInput) error {
	message := "task failed"
	if in.Err != nil {
		message = in.Err.Error()
	}
	shouldRetry := task.Mode == models.ModeAsync && in.Retryable && task.RetryCount < h.maxRetries
	nextRetryAt := time.Now().Add(backoff.Duration(task.RetryCount))
	clearExternalID := in.Source == FailureSubmit

	retried := false
	err := h.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := h.logs.CreateTx(ctx, tx, &models.TaskLog{
			ID:      uuid.New(),
			TaskID:  task.ID,
			Level:   models.LogError,
			Message: message,
		}); err != nil {
			return fmt.Errorf("handler: write failure log: %w", err)
		}

		if !shouldRetry {
			return h.terminalFail(ctx, tx, task)
		}

		won, err := h.tasks.RetryTx(ctx, tx, task.ID, task.RetryCount+1, nextRetryAt, clearExternalID)
		if err != nil {
			return fmt.Errorf("handler: retry transition: %w", err)
		}
		if !won {
			return errAlreadyConcluded
		}
		retried = true
		return nil
	})
	if errors.Is(err, errAlreadyConcluded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("handler: failure tx: %w", err)
	}
	if retried {
		obs.TasksRetried.Inc()
		h.log.Warn("task scheduled for retry", "task_id", task.ID, "retry_count", task.RetryCount+1, "next_retry_at", nextRetryAt)
	} else {
		obs.TasksFailed.Inc()
		h.log.Warn("task failed permanently", "task_id", task.ID)
	}
	return nil
}

func (h *DefaultHandler) terminalFail(ctx context.Context, tx pgx.Tx, task *models.Task) error {
	won, err := h.tasks.FailTx(ctx, tx, task.ID)
	if err != nil {
		return fmt.Errorf("handler: fail transition: %w", err)
	}
	if !won {
		return errAlreadyConcluded
	}
	return h.billing.Refund(ctx, tx, task.AccountID, task.ID, task.EstimatedCost)
}

// outputKey derives {accountId}/{taskType}/{taskId}/{filename} per spec
// §4.3 step 1: filename combines task type, task id, index, a random
// suffix (uuid, matching the teacher's use of uuid.New() wherever a short
// random token is needed, e.g. registry.slugFromName), and ext, which the
// caller derives via resolveExtension per spec §4.7 step 2.
func outputKey(task *models.Task, index int, ext string) string {
	suffix := uuid.New().String()[:8]
	filename := fmt.Sprintf("%s-%s-%d-%s%s", task.Type, task.ID, index, suffix, ext)
	return path.Join(task.AccountID.String(), string(task.Type), task.ID.String(), filename)
}

// extProbeTimeout bounds the HEAD request resolveExtension issues to
// obtain a Content-Type when the source URL's own path carries no
// extension.
const extProbeTimeout = 5 * time.Second

// mimeExtensions maps the Content-Type values the generation providers in
// this catalog plausibly return to a file extension.
var mimeExtensions = map[string]string{
	"video/mp4":         ".mp4",
	"video/webm":        ".webm",
	"video/quicktime":   ".mov",
	"image/png":         ".png",
	"image/jpeg":        ".jpg",
	"image/webp":        ".webp",
	"image/gif":         ".gif",
	"audio/mpeg":        ".mp3",
	"audio/wav":         ".wav",
	"audio/x-wav":       ".wav",
	"audio/wave":        ".wav",
	"audio/ogg":         ".ogg",
	"model/obj":         ".obj",
	"model/gltf-binary": ".glb",
	"text/plain":        ".txt",
}

// resolveExtension implements spec §4.7 step 2's three-tier algorithm:
// the source URL's own path extension, then a MIME-based mapping from a
// probed Content-Type, then a resourceType-keyed default. Probe failures
// are tolerated — they fall through to the default rather than failing
// the upload.
func (h *DefaultHandler) resolveExtension(ctx context.Context, sourceURL, resourceType string) string {
	if ext := extFromURL(sourceURL); ext != "" {
		return ext
	}
	if ct := h.probeContentType(ctx, sourceURL); ct != "" {
		if ext, ok := mimeExtensions[ct]; ok {
			return ext
		}
	}
	return defaultExtensionForResourceType(resourceType)
}

// extFromURL returns the lowercased extension of sourceURL's path, or ""
// if it has none or the candidate looks implausible (e.g. a dotted
// segment that is not actually a file extension).
func extFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" || ext == "." || len(ext) > 6 {
		return ""
	}
	return strings.ToLower(ext)
}

// probeContentType issues a HEAD request against sourceURL and returns
// the base MIME type (parameters like charset stripped), or "" if the
// probe fails or the header is absent.
func (h *DefaultHandler) probeContentType(ctx context.Context, sourceURL string) string {
	probeCtx, cancel := context.WithTimeout(ctx, extProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return ""
	}
	resp, err := h.httpClient().Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

func (h *DefaultHandler) httpClient() *http.Client {
	if h.probeClient != nil {
		return h.probeClient
	}
	return http.DefaultClient
}

// defaultExtensionForResourceType implements spec §4.7 step 2's category
// default table: video->mp4, image->jpg, audio->mp3, model_3d->obj, else
// bin.
func defaultExtensionForResourceType(resourceType string) string {
	switch resourceType {
	case models.ResourceVideo:
		return ".mp4"
	case models.ResourceImage:
		return ".jpg"
	case models.ResourceAudio:
		return ".mp3"
	case models.ResourceModel3D:
		return ".obj"
	default:
		return ".bin"
	}
}

func resourceTypeForCategory(category models.Category) string {
	switch category {
	case models.CategoryVideo:
		return models.ResourceVideo
	case models.CategoryImage:
		return models.ResourceImage
	case models.CategoryAudio:
		return models.ResourceAudio
	default:
		return models.ResourceText
	}
}
