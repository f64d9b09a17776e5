package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

// Backend is the provider side the Client talks to. *Authority implements it.
type Backend interface {
	SignUp(ctx context.Context, email, password string) (model.User, *model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignInAnonymously(ctx context.Context) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
	Revoke(ctx context.Context, accessToken string) error
}

// Storage persists the current session so it survives a restart.
// Load returns nil, nil when nothing is stored.
type Storage interface {
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context) error
}

// Watcher streams events published for one session. The channel is closed
// once ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context, sessionID string) (<-chan Event, error)
}

// Client holds the provider-side view of the current session, persists it,
// and pushes every change to its listeners. While a session is current it
// watches for that session being revoked elsewhere.
type Client struct {
	backend Backend
	storage Storage
	watcher Watcher
	logger  *zap.Logger

	flight singleflight.Group

	mu        sync.Mutex
	current   *model.Session
	stopWatch context.CancelFunc
	listeners map[int]Listener
	nextID    int
}

// NewClient builds a client. watcher may be nil, in which case no
// out-of-band sign-outs are observed.
func NewClient(backend Backend, storage Storage, watcher Watcher, logger *zap.Logger) *Client {
	return &Client{
		backend:   backend,
		storage:   storage,
		watcher:   watcher,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// GetSession returns the current session, restoring it from storage on
// first use. An expired access token is refreshed before it is returned,
// and a session that can no longer be refreshed is signed out.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		if cur.Token.Valid() {
			return cur, nil
		}
		return c.refresh(ctx, cur, true)
	}

	stored, err := c.storage.Load(ctx)
	if err != nil {
		return nil, &AuthError{Op: "get_session", Code: CodeUnexpected, Message: "failed to load stored session", Err: err}
	}
	if stored == nil {
		return nil, nil
	}
	if !stored.Token.Valid() {
		return c.refresh(ctx, stored, false)
	}

	c.setSession(ctx, stored, EventInitialSession)
	return stored, nil
}

// refresh exchanges the refresh token of s once, however many callers race
// on it; the authority rotates refresh tokens, so a second exchange would
// fail. live reports whether s is the current session.
func (c *Client) refresh(ctx context.Context, s *model.Session, live bool) (*model.Session, error) {
	v, err, _ := c.flight.Do(s.RefreshToken(), func() (interface{}, error) {
		c.mu.Lock()
		cur := c.current
		c.mu.Unlock()
		if cur != nil && cur.ID == s.ID && cur.Token.Valid() {
			return cur, nil
		}

		refreshed, err := c.backend.Refresh(ctx, s.RefreshToken())
		if err != nil {
			c.logger.Info("Session could not be refreshed", zap.String("session_id", s.ID), zap.Error(err))
			if live {
				c.clearIf(ctx, s.ID)
			} else if err := c.storage.Delete(ctx); err != nil {
				c.logger.Warn("failed to drop stored session", zap.Error(err))
			}
			return nil, err
		}

		c.setSession(ctx, refreshed, EventTokenRefreshed)
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Session), nil
}

// clearIf signs out locally when sessionID is still the current session.
func (c *Client) clearIf(ctx context.Context, sessionID string) {
	c.mu.Lock()
	current := c.current != nil && c.current.ID == sessionID
	c.mu.Unlock()
	if current {
		c.setSession(ctx, nil, EventSignedOut)
	}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	s, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, s, EventSignedIn)
	return s, nil
}

// SignUp registers an account. The returned session is nil when the account
// must confirm its email first.
func (c *Client) SignUp(ctx context.Context, email, password string) (model.User, *model.Session, error) {
	user, s, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return user, nil, err
	}
	if s != nil {
		c.setSession(ctx, s, EventSignedIn)
	}
	return user, s, nil
}

func (c *Client) SignInAnonymously(ctx context.Context) (*model.Session, error) {
	s, err := c.backend.SignInAnonymously(ctx)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, s, EventSignedIn)
	return s, nil
}

// SignOut revokes the current session. Local state is kept when the
// provider rejects the request.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		if err := c.backend.Revoke(ctx, cur.AccessToken()); err != nil {
			return err
		}
	}
	c.setSession(ctx, nil, EventSignedOut)
	return nil
}

// OnAuthStateChange registers fn for every session change. Listeners are
// called outside the client's lock, in no particular order.
func (c *Client) OnAuthStateChange(fn Listener) Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return NewSubscription(func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}

// Close stops watching for remote events.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *Client) setSession(ctx context.Context, s *model.Session, ev Event) {
	if s == nil {
		if err := c.storage.Delete(ctx); err != nil {
			c.logger.Warn("failed to delete stored session", zap.Error(err))
		}
	} else if err := c.storage.Save(ctx, s); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}

	var (
		stop   context.CancelFunc
		events <-chan Event
	)
	if s != nil && c.watcher != nil {
		wctx, cancel := context.WithCancel(context.Background())
		ch, err := c.watcher.Watch(wctx, s.ID)
		if err != nil {
			cancel()
			c.logger.Warn("failed to watch session", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			stop, events = cancel, ch
		}
	}

	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.current = s
	c.stopWatch = stop
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if events != nil {
		go c.watch(events, s.ID)
	}

	for _, l := range listeners {
		l(ev, s)
	}
}

func (c *Client) watch(events <-chan Event, sessionID string) {
	for ev := range events {
		if ev != EventSignedOut {
			continue
		}
		c.logger.Info("Session revoked remotely", zap.String("session_id", sessionID))
		c.clearIf(context.Background(), sessionID)
		return
	}
}
