// Package httpapi is the thin HTTP surface over internal/taskservice.
// Grounded on the teacher's internal/handlers.TaskHandler: decode the
// request, delegate to the service, map sentinel errors to status codes,
// writeJSON the result. Per spec §1, authentication and the web UI are
// out of scope — callers supply account_id directly in the request body
// or query string rather than deriving it from a session.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inaiurai/mediatasks/internal/billing"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/taskservice"
	"github.com/inaiurai/mediatasks/internal/validate"
)

// Handler serves the /v1/tasks endpoints.
type Handler struct {
	tasks  *taskservice.Service
	logger *slog.Logger
}

func NewHandler(tasks *taskservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tasks: tasks, logger: logger}
}

type createTaskRequest struct {
	AccountID         string                `json:"account_id"`
	Name              string                `json:"name"`
	Type              models.TaskType       `json:"type"`
	Config            json.RawMessage       `json:"config"`
	Inputs            []createTaskInputSpec `json:"inputs"`
	EstimatedDuration float64               `json:"estimated_duration"`
	EstimatedCount    float64               `json:"estimated_count"`
}

type createTaskInputSpec struct {
	ResourceType string          `json:"resource_type"`
	URL          string          `json:"url"`
	Metadata     json.RawMessage `json:"metadata"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// CreateTask handles POST /v1/tasks: decode -> delegate to
// taskservice.Create (which estimates, validates, charges, and persists
// atomically) -> 201 with the new task id.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account_id")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown task type")
		return
	}

	inputs := make([]taskservice.InputResource, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, taskservice.InputResource{
			ResourceType: in.ResourceType,
			URL:          in.URL,
			Metadata:     in.Metadata,
		})
	}

	task, err := h.tasks.Create(r.Context(), taskservice.CreateParams{
		AccountID:         accountID,
		Name:              req.Name,
		Type:              req.Type,
		Config:            req.Config,
		Inputs:            inputs,
		EstimatedDuration: req.EstimatedDuration,
		EstimatedCount:    req.EstimatedCount,
	})
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createTaskResponse{TaskID: task.ID.String(), Status: task.Status})
}

// CancelTask handles POST /v1/tasks/{id}/cancel.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := h.tasks.Cancel(r.Context(), taskID); err != nil {
		h.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID.String(), "status": "cancelled"})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	result, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListTasks handles GET /v1/tasks?account_id=...&status=...&type=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing account_id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, total, err := h.tasks.List(r.Context(), accountID, taskservice.ListOpts{
		Status: r.URL.Query().Get("status"),
		Type:   models.TaskType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "total": total})
}

func (h *Handler) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskservice.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case billing.IsInsufficientBalance(err):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, validate.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrUnknownTaskType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("task request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseTaskID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
