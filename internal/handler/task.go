package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/app"
	"github.com/BuzzLyutic/taskstar/internal/model"
	"github.com/BuzzLyutic/taskstar/internal/repo"
	"github.com/BuzzLyutic/taskstar/internal/tasklist"
	"github.com/BuzzLyutic/taskstar/pkg/respond"
)

type TaskHandler struct {
	workspace *app.Workspace
	logger    *zap.Logger
}

func NewTaskHandler(workspace *app.Workspace, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		workspace: workspace,
		logger:    logger,
	}
}

// listResponse is the task screen: tasks in display order plus the footer.
type listResponse struct {
	Tasks   []model.Task     `json:"tasks"`
	Summary tasklist.Summary `json:"summary"`
	Loading bool             `json:"loading"`
	Error   string           `json:"error,omitempty"`
}

type descriptionRequest struct {
	Description string `json:"description"`
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mount(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, c)
}

func (h *TaskHandler) Reload(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, c *tasklist.Controller) error {
		return c.Load(ctx)
	})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context, c *tasklist.Controller) error {
		return c.AddTask(ctx, req.Description)
	})
}

func (h *TaskHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, c *tasklist.Controller) error {
		return c.UpdateDescription(ctx, id, req.Description)
	})
}

func (h *TaskHandler) ToggleCompletion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, c *tasklist.Controller) error {
		return c.ToggleCompletion(ctx, id)
	})
}

func (h *TaskHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, c *tasklist.Controller) error {
		return c.ToggleStar(ctx, id)
	})
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.mount(w, r)
	if !ok {
		return
	}
	if err := c.DeleteTask(r.Context(), id); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w, r)
}

func (h *TaskHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	if c := h.workspace.Current(); c != nil {
		c.ClearError()
	}
	respond.NoContent(w, r)
}

func (h *TaskHandler) mutate(w http.ResponseWriter, r *http.Request, code int, fn func(context.Context, *tasklist.Controller) error) {
	c, ok := h.mount(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), c); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	h.render(w, r, code, c)
}

func (h *TaskHandler) mount(w http.ResponseWriter, r *http.Request) (*tasklist.Controller, bool) {
	c, err := h.workspace.Mount(r.Context())
	if err != nil {
		h.handleErrors(w, r, err)
		return nil, false
	}
	return c, true
}

func (h *TaskHandler) render(w http.ResponseWriter, r *http.Request, code int, c *tasklist.Controller) {
	respond.JSON(w, r, code, listResponse{
		Tasks:   c.Sorted(),
		Summary: c.Summary(),
		Loading: c.Loading(),
		Error:   c.Err(),
	})
}

func (h *TaskHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasklist.ErrEmptyDescription):
		respond.Error(w, r, http.StatusBadRequest, "Task description is required")
	case errors.Is(err, app.ErrNoSession):
		respond.Error(w, r, http.StatusUnauthorized, "Not signed in")
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "Task not found")
	case errors.Is(err, repo.ErrorForbidden):
		respond.Error(w, r, http.StatusForbidden, "Not allowed")
	case errors.Is(err, repo.ErrorInvalid):
		respond.Error(w, r, http.StatusBadRequest, "Invalid task")
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "Conflict")
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}
