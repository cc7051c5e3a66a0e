package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/inaiurai/mediatasks/internal/taskservice"
)

// RegisterRoutes adds the /v1/tasks endpoints to mux, mirroring the
// teacher's RegisterV1Routes: one handler struct, one mux.Handle call per
// method+path pattern.
func RegisterRoutes(mux *http.ServeMux, tasks *taskservice.Service, logger *slog.Logger) {
	h := NewHandler(tasks, logger)

	mux.HandleFunc("POST /v1/tasks", h.CreateTask)
	mux.HandleFunc("GET /v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.CancelTask)
}
