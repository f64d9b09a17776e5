package repo

import (
	"errors"
	"fmt"
)

var (
	ErrorNotFound  = errors.New("not found")
	ErrorConflict  = errors.New("conflict")
	ErrorForbidden = errors.New("permission denied")
	ErrorInvalid   = errors.New("invalid task")
)

// RepositoryError is a rejected CRUD call. Err is one of the sentinels above
// or the underlying transport error.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s task: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}
