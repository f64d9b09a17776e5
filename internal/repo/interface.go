package repo

import (
	"context"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

// TaskRepository maps task CRUD intents to remote calls. The caller's
// identity travels on ctx (identity.WithAccessToken); every operation is
// scoped to that owner.
type TaskRepository interface {
	List(ctx context.Context) ([]model.Task, error)
	Create(ctx context.Context, description, ownerID string) (model.Task, error)
	Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	Delete(ctx context.Context, id string) error
}
