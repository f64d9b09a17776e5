package model

import "time"

// Task is a single to-do record owned by one user.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Starred     bool      `json:"starred"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskPatch carries the fields of an update. Nil fields are left untouched.
type TaskPatch struct {
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
	Starred     *bool   `json:"starred,omitempty"`
}

func (p TaskPatch) Empty() bool {
	return p.Description == nil && p.Completed == nil && p.Starred == nil
}
