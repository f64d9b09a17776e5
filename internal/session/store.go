// Package session holds the authentication state of the running client.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Provider is the identity provider the store wraps. *identity.Client
// implements it.
type Provider interface {
	GetSession(ctx context.Context) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (model.User, *model.Session, error)
	SignInAnonymously(ctx context.Context) (*model.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn identity.Listener) identity.Subscription
}

// Snapshot is a consistent read of the store.
type Snapshot struct {
	Session *model.Session
	User    *model.User
	Loading bool
	State   State
}

// Store owns the current session and user. Provider pushes replace them
// unconditionally; successful actions set them without waiting for a push.
type Store struct {
	provider Provider
	logger   *zap.Logger
	sub      identity.Subscription

	mu          sync.Mutex
	session     *model.Session
	loading     bool
	initialized bool
	observers   map[int]func(Snapshot)
	nextID      int
}

// NewStore subscribes to provider pushes immediately. Close releases the
// subscription.
func NewStore(provider Provider, logger *zap.Logger) *Store {
	s := &Store{
		provider:  provider,
		logger:    logger,
		observers: make(map[int]func(Snapshot)),
	}
	s.sub = provider.OnAuthStateChange(s.onSessionChanged)
	return s
}

// Init asks the provider for a persisted session. Loading is always cleared
// on return; a provider failure is logged and leaves the session untouched.
func (s *Store) Init(ctx context.Context) {
	s.update(func() { s.loading = true })

	var (
		restored *model.Session
		ok       bool
	)
	defer func() {
		s.update(func() {
			if ok {
				s.session = restored
			}
			s.loading = false
		})
	}()

	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		s.logger.Error("Error getting initial session", zap.Error(err))
		return
	}
	restored, ok = sess, true
}

// SignIn signs in with email and password. On success the session is set
// without waiting for the provider's push.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return identity.AsAuthError("signin", err)
	}
	s.setSession(sess)
	return nil
}

// SignUp registers an account. It reports whether the account must confirm
// its email before a session exists; in that case the store is unchanged.
func (s *Store) SignUp(ctx context.Context, email, password string) (confirmationPending bool, err error) {
	_, sess, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return false, identity.AsAuthError("signup", err)
	}
	if sess == nil {
		return true, nil
	}
	s.setSession(sess)
	return false, nil
}

// SignInAnonymously starts a session for a new anonymous user.
func (s *Store) SignInAnonymously(ctx context.Context) error {
	sess, err := s.provider.SignInAnonymously(ctx)
	if err != nil {
		return identity.AsAuthError("signin_anonymous", err)
	}
	s.setSession(sess)
	return nil
}

// SignOut ends the session. A rejection keeps the current state.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return identity.AsAuthError("signout", err)
	}
	s.setSession(nil)
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// User returns the signed-in user, or nil.
func (s *Store) User() *model.User {
	return s.Snapshot().User
}

// ActiveSession returns the live session with a usable access token. The
// provider refreshes an expired token and pushes the result, so the store
// stays in step. It returns nil when nobody is signed in.
func (s *Store) ActiveSession(ctx context.Context) (*model.Session, error) {
	if s.Snapshot().Session == nil {
		return nil, nil
	}
	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		return nil, identity.AsAuthError("get_session", err)
	}
	return sess, nil
}

// AccessToken returns the live session's access token as last seen, or "".
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.AccessToken()
}

// Subscribe calls fn with a snapshot after every state change.
func (s *Store) Subscribe(fn func(Snapshot)) identity.Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return identity.NewSubscription(func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	})
}

// Close releases the provider subscription. Safe to call more than once.
func (s *Store) Close() {
	s.sub.Unsubscribe()
}

func (s *Store) onSessionChanged(ev identity.Event, sess *model.Session) {
	s.logger.Debug("Auth state changed", zap.String("event", string(ev)))
	s.setSession(sess)
}

func (s *Store) setSession(sess *model.Session) {
	s.update(func() { s.session = sess })
}

// update applies fn under the lock, then notifies observers outside it.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	if !s.loading {
		s.initialized = true
	}
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Session: s.session, Loading: s.loading}
	if s.session != nil {
		u := s.session.User
		snap.User = &u
	}

	switch {
	case s.loading:
		snap.State = StateLoading
	case !s.initialized:
		snap.State = StateUninitialized
	case s.session == nil:
		snap.State = StateUnauthenticated
	case s.session.User.IsAnonymous:
		snap.State = StateAnonymous
	default:
		snap.State = StateAuthenticated
	}
	return snap
}
