package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/service"
)

// TaskHandler exposes the caller's tasks. Every route sits behind
// auth.RequireAuth, so the caller is always in the context.
type TaskHandler struct {
	tasks  *service.TaskService
	logger *slog.Logger
}

func NewTaskHandler(tasks *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

// HTTP: GET /api/tasks
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	tasks, err := h.tasks.List(r.Context(), caller)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Tasks retrieved successfully", tasks)
}

// HTTP: POST /api/tasks
// BODY: {"title", "description"?, "status"?, "category"?, "due_date"?}
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var in service.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Create(r.Context(), caller, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Task created successfully", task)
}

// HTTP: GET /api/tasks/{id}
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.Get(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Task retrieved successfully", task)
}

// HTTP: PUT /api/tasks/{id}
func (h *TaskHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var in service.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Update(r.Context(), caller, id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Task updated successfully", task)
}

// HTTP: DELETE /api/tasks/{id}
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), caller, id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Task deleted successfully", nil)
}

func (h *TaskHandler) caller(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthenticated.")
		return model.User{}, false
	}
	return c.User, true
}

// taskID parses {id}. A non-numeric id can't name any task, so it gets the
// same 404 as a missing one.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.logger, apperror.NotFound("Task"))
		return 0, false
	}
	return id, true
}
