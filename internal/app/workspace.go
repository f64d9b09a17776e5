// Package app ties the session store to the task list of the signed-in user.
package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/repo"
	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/internal/tasklist"
)

var ErrNoSession = errors.New("no active session")

// Workspace owns at most one task list controller, belonging to the current
// session. The controller is discarded as soon as the session changes,
// before any later session gets a chance to load.
type Workspace struct {
	store  *session.Store
	repo   repo.TaskRepository
	logger *zap.Logger
	sub    identity.Subscription

	mu        sync.Mutex
	sessionID string
	tasks     *tasklist.Controller
	mounted   bool
}

func NewWorkspace(store *session.Store, r repo.TaskRepository, logger *zap.Logger) *Workspace {
	w := &Workspace{
		store:  store,
		repo:   r,
		logger: logger,
	}
	w.onSession(store.Snapshot())
	w.sub = store.Subscribe(w.onSession)
	return w
}

// Mount returns the controller for the live session, loading it the first
// time it is mounted. A failed load still returns the controller; the error
// is recorded on it. Callers racing the first mount may see it still loading.
func (w *Workspace) Mount(ctx context.Context) (*tasklist.Controller, error) {
	w.mu.Lock()
	// read under w.mu so a concurrent session change is either already
	// visible here or resets whatever this call builds
	snap := w.store.Snapshot()
	if snap.Session == nil {
		w.mu.Unlock()
		return nil, ErrNoSession
	}
	if w.tasks == nil || w.sessionID != snap.Session.ID {
		w.sessionID = snap.Session.ID
		w.tasks = tasklist.New(w.repo, snap.Session.User.ID, w.tokenFor(snap.Session.ID), w.logger)
		w.mounted = false
	}
	c := w.tasks
	first := !w.mounted
	w.mounted = true
	w.mu.Unlock()

	if first {
		_ = c.Load(ctx)
	}
	return c, nil
}

// Current returns the live controller without mounting one.
func (w *Workspace) Current() *tasklist.Controller {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tasks
}

func (w *Workspace) Close() {
	w.sub.Unsubscribe()
}

// tokenFor hands a controller the tokens of its own session only. Once that
// session is gone the controller gets "" and its calls fail as forbidden.
func (w *Workspace) tokenFor(sessionID string) tasklist.TokenFunc {
	return func(ctx context.Context) string {
		sess, err := w.store.ActiveSession(ctx)
		if err != nil {
			w.logger.Warn("No usable session for task call", zap.String("session_id", sessionID), zap.Error(err))
			return ""
		}
		if sess == nil || sess.ID != sessionID {
			return ""
		}
		return sess.AccessToken()
	}
}

func (w *Workspace) onSession(snap session.Snapshot) {
	var id string
	if snap.Session != nil {
		id = snap.Session.ID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if id == w.sessionID {
		return
	}
	if w.tasks != nil {
		w.logger.Info("Discarding task list", zap.String("session_id", w.sessionID))
	}
	w.tasks = nil
	w.mounted = false
	w.sessionID = id
}
