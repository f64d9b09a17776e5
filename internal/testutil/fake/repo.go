package fake

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
	"github.com/BuzzLyutic/taskstar/internal/repo"
)

// Repo is an in-memory TaskRepository that scopes by the token issued by
// Provider.
type Repo struct {
	mu    sync.Mutex
	tasks []model.Task // newest first
	seq   int
	fail  map[string]error
	calls map[string]int
	clock time.Time
}

func NewRepo() *Repo {
	return &Repo{
		fail:  make(map[string]error),
		calls: make(map[string]int),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailNext makes the next call of op ("list", "create", "update", "delete")
// fail with err wrapped in a RepositoryError.
func (r *Repo) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[op] = err
}

// Calls reports how many times op reached the repository.
func (r *Repo) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Seed inserts a task directly, bypassing ownership checks.
func (r *Repo) Seed(owner, description string, starred, completed bool) model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.newTaskLocked(owner, description)
	t.Starred, t.Completed = starred, completed
	r.tasks = slices.Insert(r.tasks, 0, t)
	return t
}

func (r *Repo) List(ctx context.Context) ([]model.Task, error) {
	owner, err := r.begin(ctx, "list")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Task, 0)
	for _, t := range r.tasks {
		if t.UserID == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Repo) Create(ctx context.Context, description, ownerID string) (model.Task, error) {
	owner, err := r.begin(ctx, "create")
	if err != nil {
		return model.Task{}, err
	}
	if owner != ownerID {
		return model.Task{}, &repo.RepositoryError{Op: "create", Err: repo.ErrorForbidden}
	}
	if strings.TrimSpace(description) == "" {
		return model.Task{}, &repo.RepositoryError{Op: "create", Err: repo.ErrorInvalid}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.newTaskLocked(owner, strings.TrimSpace(description))
	r.tasks = slices.Insert(r.tasks, 0, t)
	return t, nil
}

func (r *Repo) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	owner, err := r.begin(ctx, "update")
	if err != nil {
		return model.Task{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id, owner)
	if i < 0 {
		return model.Task{}, &repo.RepositoryError{Op: "update", Err: repo.ErrorNotFound}
	}
	t := &r.tasks[i]
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}
	if patch.Starred != nil {
		t.Starred = *patch.Starred
	}
	return *t, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	owner, err := r.begin(ctx, "delete")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id, owner)
	if i < 0 {
		return &repo.RepositoryError{Op: "delete", Err: repo.ErrorNotFound}
	}
	r.tasks = slices.Delete(r.tasks, i, i+1)
	return nil
}

func (r *Repo) begin(ctx context.Context, op string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++

	if err, ok := r.fail[op]; ok {
		delete(r.fail, op)
		return "", &repo.RepositoryError{Op: op, Err: err}
	}

	token := identity.AccessTokenFrom(ctx)
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", &repo.RepositoryError{Op: op, Err: repo.ErrorForbidden}
	}
	return strings.TrimPrefix(token, tokenPrefix), nil
}

func (r *Repo) newTaskLocked(owner, description string) model.Task {
	r.seq++
	r.clock = r.clock.Add(time.Second)
	return model.Task{
		ID:          fmt.Sprintf("task-%d", r.seq),
		UserID:      owner,
		Description: description,
		CreatedAt:   r.clock,
	}
}

func (r *Repo) indexLocked(id, owner string) int {
	return slices.IndexFunc(r.tasks, func(t model.Task) bool {
		return t.ID == id && t.UserID == owner
	})
}
