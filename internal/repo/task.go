package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
)

const taskColumns = "id::text, user_id::text, description, completed, starred, created_at"

// Verifier resolves an access token to its claims.
type Verifier interface {
	Verify(token string) (*identity.Claims, error)
}

// TaskRepo is the Postgres-backed TaskRepository. Ownership is enforced in
// every statement from the verified token subject.
type TaskRepo struct {
	pool     *pgxpool.Pool
	verifier Verifier
}

func NewTaskRepo(pool *pgxpool.Pool, verifier Verifier) *TaskRepo {
	return &TaskRepo{
		pool:     pool,
		verifier: verifier,
	}
}

func (r *TaskRepo) List(ctx context.Context) ([]model.Task, error) {
	const op = "list"

	owner, err := r.owner(ctx, op)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, r.mapError(op, err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, r.mapError(op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapError(op, err)
	}
	return tasks, nil
}

func (r *TaskRepo) Create(ctx context.Context, description, ownerID string) (model.Task, error) {
	const op = "create"

	owner, err := r.owner(ctx, op)
	if err != nil {
		return model.Task{}, err
	}
	if ownerID != owner {
		return model.Task{}, &RepositoryError{Op: op, Err: ErrorForbidden}
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return model.Task{}, &RepositoryError{Op: op, Err: ErrorInvalid}
	}

	t, err := scanTask(r.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_id, description)
		VALUES ($1, $2)
		RETURNING `+taskColumns,
		ownerID, description,
	))
	return t, r.mapError(op, err)
}

func (r *TaskRepo) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	const op = "update"

	owner, err := r.owner(ctx, op)
	if err != nil {
		return model.Task{}, err
	}
	if patch.Empty() {
		return model.Task{}, &RepositoryError{Op: op, Err: ErrorInvalid}
	}
	if patch.Description != nil {
		trimmed := strings.TrimSpace(*patch.Description)
		if trimmed == "" {
			return model.Task{}, &RepositoryError{Op: op, Err: ErrorInvalid}
		}
		patch.Description = &trimmed
	}

	t, err := scanTask(r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET description = COALESCE($3, description),
		    completed   = COALESCE($4, completed),
		    starred     = COALESCE($5, starred)
		WHERE id = $1::text::uuid AND user_id = $2
		RETURNING `+taskColumns,
		id, owner, patch.Description, patch.Completed, patch.Starred,
	))
	return t, r.mapError(op, err)
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	const op = "delete"

	owner, err := r.owner(ctx, op)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1::text::uuid AND user_id = $2", id, owner)
	if err != nil {
		return r.mapError(op, err)
	}
	if cmd.RowsAffected() == 0 {
		return &RepositoryError{Op: op, Err: ErrorNotFound}
	}
	return nil
}

func (r *TaskRepo) owner(ctx context.Context, op string) (string, error) {
	claims, err := r.verifier.Verify(identity.AccessTokenFrom(ctx))
	if err != nil {
		return "", &RepositoryError{Op: op, Err: errors.Join(ErrorForbidden, err)}
	}
	return claims.Subject, nil
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.Completed, &t.Starred, &t.CreatedAt)
	return t, err
}

func (r *TaskRepo) mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &RepositoryError{Op: op, Err: ErrorNotFound}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &RepositoryError{Op: op, Err: ErrorConflict}
		case "22P02": // id is not a uuid
			return &RepositoryError{Op: op, Err: ErrorNotFound}
		case "23503": // owner does not exist
			return &RepositoryError{Op: op, Err: ErrorForbidden}
		case "23514":
			return &RepositoryError{Op: op, Err: ErrorInvalid}
		}
	}
	return &RepositoryError{Op: op, Err: err}
}
