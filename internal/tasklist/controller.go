// Package tasklist keeps the local task list of one session in step with
// the repository. Local state changes only after a remote call succeeds.
package tasklist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
	"github.com/BuzzLyutic/taskstar/internal/repo"
)

var ErrEmptyDescription = errors.New("task description is empty")

// TokenFunc returns the access token to present on a repository call. An
// empty token makes the call fail as forbidden.
type TokenFunc func(ctx context.Context) string

// Controller owns the in-memory tasks of one session, in repository order
// (newest first). The lock guards state only and is never held across a
// repository call, so two racing mutations resolve last-response-wins.
type Controller struct {
	repo    repo.TaskRepository
	ownerID string
	token   TokenFunc
	logger  *zap.Logger

	mu      sync.RWMutex
	tasks   []model.Task
	loading bool
	loaded  bool
	lastErr string
}

func New(r repo.TaskRepository, ownerID string, token TokenFunc, logger *zap.Logger) *Controller {
	return &Controller{
		repo:    r,
		ownerID: ownerID,
		token:   token,
		logger:  logger,
	}
}

// Load replaces the collection with the repository's. On failure the prior
// collection stays and the error is recorded.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	tasks, err := c.repo.List(c.scoped(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.loaded = true
	if err != nil {
		c.failLocked("Failed to load tasks", err)
		return err
	}
	c.tasks = tasks
	return nil
}

// AddTask creates a task and prepends it. A blank description is rejected
// without a repository call.
func (c *Controller) AddTask(ctx context.Context, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return ErrEmptyDescription
	}

	task, err := c.repo.Create(c.scoped(ctx), description, c.ownerID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failLocked("Failed to add task", err)
		return err
	}
	c.tasks = slices.Insert(c.tasks, 0, task)
	return nil
}

// ToggleCompletion flips the completed flag of the task with id.
func (c *Controller) ToggleCompletion(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "Failed to toggle task completion", func(t model.Task) model.TaskPatch {
		flipped := !t.Completed
		return model.TaskPatch{Completed: &flipped}
	})
}

// ToggleStar flips the starred flag of the task with id.
func (c *Controller) ToggleStar(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "Failed to toggle task star", func(t model.Task) model.TaskPatch {
		flipped := !t.Starred
		return model.TaskPatch{Starred: &flipped}
	})
}

// UpdateDescription renames the task with id. Same rules as AddTask for
// blank input, same rules as the toggles for unknown ids.
func (c *Controller) UpdateDescription(ctx context.Context, id, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return ErrEmptyDescription
	}
	return c.toggle(ctx, id, "Failed to update task", func(model.Task) model.TaskPatch {
		return model.TaskPatch{Description: &description}
	})
}

// toggle sends the patch built from the local record. An unknown id is a
// stale reference and is ignored.
func (c *Controller) toggle(ctx context.Context, id, failMsg string, patchFor func(model.Task) model.TaskPatch) error {
	c.mu.RLock()
	i := c.indexLocked(id)
	var current model.Task
	if i >= 0 {
		current = c.tasks[i]
	}
	c.mu.RUnlock()
	if i < 0 {
		return nil
	}

	updated, err := c.repo.Update(c.scoped(ctx), id, patchFor(current))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failLocked(failMsg, err)
		return err
	}
	if j := c.indexLocked(id); j >= 0 {
		c.tasks[j] = updated
	}
	return nil
}

// DeleteTask removes the task remotely, then locally.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	err := c.repo.Delete(c.scoped(ctx), id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failLocked("Failed to delete task", err)
		return err
	}
	c.tasks = slices.DeleteFunc(c.tasks, func(t model.Task) bool { return t.ID == id })
	return nil
}

// Tasks returns a copy in repository order.
func (c *Controller) Tasks() []model.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tasks)
}

// Sorted returns the display order, recomputed on every call.
func (c *Controller) Sorted() []model.Task {
	return SortForDisplay(c.Tasks())
}

func (c *Controller) Summary() Summary {
	return Summarize(c.Tasks())
}

// Loading reports whether a Load is in flight.
func (c *Controller) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

func (c *Controller) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Err returns the most recent failure message, or "".
func (c *Controller) Err() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ClearError dismisses the recorded error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *Controller) scoped(ctx context.Context) context.Context {
	return identity.WithAccessToken(ctx, c.token(ctx))
}

func (c *Controller) indexLocked(id string) int {
	return slices.IndexFunc(c.tasks, func(t model.Task) bool { return t.ID == id })
}

func (c *Controller) failLocked(msg string, err error) {
	c.lastErr = fmt.Sprintf("%s: %v", msg, err)
	c.logger.Warn(msg, zap.String("owner", c.ownerID), zap.Error(err))
}
