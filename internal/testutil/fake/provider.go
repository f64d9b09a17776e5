// Package fake provides in-memory stand-ins for the identity provider and
// the task repository.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
)

const tokenPrefix = "token-"

// TokenFor is the access token the fake provider issues for userID.
func TokenFor(userID string) string {
	return tokenPrefix + userID
}

// Provider is an in-memory identity provider. Register accounts with
// AddAccount; push out-of-band changes with Push.
type Provider struct {
	RequireConfirmation bool
	SignOutErr          error

	mu        sync.Mutex
	accounts  map[string]string
	current   *model.Session
	stored    *model.Session
	listeners map[int]identity.Listener
	nextID    int
	seq       int
}

func NewProvider() *Provider {
	return &Provider{
		accounts:  make(map[string]string),
		listeners: make(map[int]identity.Listener),
	}
}

func (p *Provider) AddAccount(email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = password
}

// Persist makes GetSession restore s, as if saved by an earlier run.
func (p *Provider) Persist(s *model.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored = s
}

// NewSession builds a session for userID with a token the fake repository
// accepts.
func NewSession(userID, email string, anonymous bool) *model.Session {
	return &model.Session{
		ID:   "sess-" + userID,
		User: model.User{ID: userID, Email: email, IsAnonymous: anonymous},
		Token: &oauth2.Token{
			AccessToken:  TokenFor(userID),
			TokenType:    "bearer",
			RefreshToken: "refresh-" + userID,
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

func (p *Provider) GetSession(context.Context) (*model.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.current = p.stored
	}
	return p.current, nil
}

func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	p.mu.Lock()
	want, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok || want != password {
		return nil, &identity.AuthError{Op: "signin", Code: identity.CodeInvalidCredentials, Message: "Invalid login credentials"}
	}

	s := p.newSession(userID(email), email, false)
	p.set(identity.EventSignedIn, s)
	return s, nil
}

func (p *Provider) SignUp(_ context.Context, email, password string) (model.User, *model.Session, error) {
	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return model.User{}, nil, &identity.AuthError{Op: "signup", Code: identity.CodeUserExists, Message: "User already registered"}
	}
	p.accounts[email] = password
	confirm := p.RequireConfirmation
	p.mu.Unlock()

	user := model.User{ID: userID(email), Email: email}
	if confirm {
		return user, nil, nil
	}
	s := p.newSession(user.ID, email, false)
	p.set(identity.EventSignedIn, s)
	return user, s, nil
}

func (p *Provider) SignInAnonymously(context.Context) (*model.Session, error) {
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("anon-%d", p.seq)
	p.mu.Unlock()

	s := p.newSession(id, "", true)
	p.set(identity.EventSignedIn, s)
	return s, nil
}

func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	err := p.SignOutErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.set(identity.EventSignedOut, nil)
	return nil
}

func (p *Provider) OnAuthStateChange(fn identity.Listener) identity.Subscription {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return identity.NewSubscription(func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	})
}

// Push simulates an out-of-band session change.
func (p *Provider) Push(ev identity.Event, s *model.Session) {
	p.set(ev, s)
}

func (p *Provider) set(ev identity.Event, s *model.Session) {
	p.mu.Lock()
	p.current = s
	p.stored = s
	listeners := make([]identity.Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(ev, s)
	}
}

// newSession gives every sign-in its own session id.
func (p *Provider) newSession(userID, email string, anonymous bool) *model.Session {
	p.mu.Lock()
	p.seq++
	n := p.seq
	p.mu.Unlock()

	s := NewSession(userID, email, anonymous)
	s.ID = fmt.Sprintf("%s-%d", s.ID, n)
	return s
}

func userID(email string) string {
	return "user-" + strings.SplitN(email, "@", 2)[0]
}
