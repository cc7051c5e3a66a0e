package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/inaiurai/mediatasks/internal/models"
)

// executeTimeout bounds the synchronous submit call. Grounded on the
// teacher's Dispatcher, which gives worker webhooks 5 seconds
// (internal/services/dispatcher.go's dispatchTimeout); generation APIs
// are slower, so this is wider.
const executeTimeout = 30 * time.Second

// queryTimeout bounds a single poll call.
const queryTimeout = 10 * time.Second

// HTTPProvider adapts a third-party generation API reachable over plain
// JSON-over-HTTP to the Provider contract. One instance is registered per
// TaskType in cmd/scheduler/main.go, each pointed at its own BaseURL; the
// request/response shape (submit endpoint, poll endpoint) is uniform
// across the providers this repository integrates, mirroring how the
// teacher's Dispatcher posts the same dispatchPayload shape to every
// worker agent's endpoint regardless of capability.
type HTTPProvider struct {
	taskType models.TaskType
	mode     models.Mode
	baseURL  string
	client   *http.Client
}

// NewHTTPProvider returns a Provider that calls baseURL+"/execute" and
// baseURL+"/status/{externalTaskId}". client may be nil, in which case a
// client with executeTimeout is used.
func NewHTTPProvider(taskType models.TaskType, mode models.Mode, baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: executeTimeout}
	}
	return &HTTPProvider{taskType: taskType, mode: mode, baseURL: baseURL, client: client}
}

func (p *HTTPProvider) TaskType() models.TaskType { return p.taskType }
func (p *HTTPProvider) Mode() models.Mode         { return p.mode }

type executeRequest struct {
	TaskID string            `json:"task_id"`
	Config json.RawMessage   `json:"config"`
	Inputs []executeResource `json:"inputs"`
}

type executeResource struct {
	ResourceType string `json:"resource_type"`
	URL          string `json:"url"`
}

type executeResponse struct {
	Success        bool             `json:"success"`
	ExternalTaskID string           `json:"external_task_id"`
	Outputs        []models.Output  `json:"outputs"`
	ActualUsage    float64          `json:"actual_usage"`
	Error          string           `json:"error"`
	ErrorCode      string           `json:"error_code"`
	Retryable      bool             `json:"retryable"`
}

func (p *HTTPProvider) Execute(ctx context.Context, task *models.Task, inputs []*models.TaskResource) (*ExecuteResult, error) {
	reqInputs := make([]executeResource, len(inputs))
	for i, in := range inputs {
		reqInputs[i] = executeResource{ResourceType: in.ResourceType, URL: in.URL}
	}
	body, err := json.Marshal(executeRequest{
		TaskID: task.ID.String(),
		Config: task.Config,
		Inputs: reqInputs,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal execute request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &ExecuteResult{Success: false, Err: err, Retryable: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &ExecuteResult{Success: false, Err: fmt.Errorf("provider: upstream status %d", resp.StatusCode), Retryable: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return &ExecuteResult{Success: false, Err: fmt.Errorf("provider: upstream status %d", resp.StatusCode), Retryable: false}, nil
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider: decode execute response: %w", err)
	}
	if !out.Success {
		var rerr error
		if out.Error != "" {
			rerr = fmt.Errorf("provider: %s", out.Error)
		}
		return &ExecuteResult{Success: false, Err: rerr, ErrorCode: out.ErrorCode, Retryable: out.Retryable}, nil
	}
	return &ExecuteResult{
		Success:        true,
		ExternalTaskID: out.ExternalTaskID,
		Outputs:        out.Outputs,
		ActualUsage:    out.ActualUsage,
	}, nil
}

type queryResponse struct {
	Status      string           `json:"status"`
	Outputs     []models.Output  `json:"outputs"`
	ActualUsage float64          `json:"actual_usage"`
	Error       string           `json:"error"`
	ErrorCode   string           `json:"error_code"`
	Retryable   bool             `json:"retryable"`
}

func (p *HTTPProvider) Query(ctx context.Context, task *models.Task) (*QueryResult, error) {
	if task.ExternalTaskID == nil {
		return nil, fmt.Errorf("provider: task %s has no external_task_id to poll", task.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/status/"+*task.ExternalTaskID, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build query request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &QueryResult{Status: QueryStatusPending, Err: err, Retryable: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &QueryResult{Status: QueryStatusPending, Err: fmt.Errorf("provider: upstream status %d", resp.StatusCode), Retryable: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return &QueryResult{Status: QueryStatusFailed, Err: fmt.Errorf("provider: upstream status %d", resp.StatusCode)}, nil
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider: decode query response: %w", err)
	}

	result := &QueryResult{Status: QueryStatus(out.Status), Outputs: out.Outputs, ActualUsage: out.ActualUsage, ErrorCode: out.ErrorCode, Retryable: out.Retryable}
	if out.Error != "" {
		result.Err = fmt.Errorf("provider: %s", out.Error)
	}
	return result, nil
}

var _ Provider = (*HTTPProvider)(nil)
