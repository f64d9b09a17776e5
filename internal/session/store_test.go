package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
)

// MockProvider captures the registered listener so tests can push.
type MockProvider struct {
	mock.Mock

	mu           sync.Mutex
	listener     identity.Listener
	unsubscribed int
}

func (m *MockProvider) GetSession(ctx context.Context) (*model.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string) (model.User, *model.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(1).(*model.Session)
	return args.Get(0).(model.User), s, args.Error(2)
}

func (m *MockProvider) SignInAnonymously(ctx context.Context) (*model.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) OnAuthStateChange(fn identity.Listener) identity.Subscription {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
	return identity.NewSubscription(func() {
		m.mu.Lock()
		m.unsubscribed++
		m.listener = nil
		m.mu.Unlock()
	})
}

func (m *MockProvider) push(ev identity.Event, s *model.Session) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(ev, s)
	}
}

func newSession(id string, anonymous bool) *model.Session {
	return &model.Session{
		ID:    "sess-" + id,
		User:  model.User{ID: id, IsAnonymous: anonymous},
		Token: &oauth2.Token{AccessToken: "access-" + id},
	}
}

func TestStore_Init(t *testing.T) {
	tests := []struct {
		name      string
		session   *model.Session
		err       error
		wantState State
	}{
		{
			name:      "restores persisted session",
			session:   newSession("u1", false),
			wantState: StateAuthenticated,
		},
		{
			name:      "restores anonymous session",
			session:   newSession("u1", true),
			wantState: StateAnonymous,
		},
		{
			name:      "nothing persisted",
			wantState: StateUnauthenticated,
		},
		{
			name:      "provider failure still clears loading",
			err:       errors.New("redis down"),
			wantState: StateUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProvider)
			store := NewStore(p, zap.NewNop())
			defer store.Close()

			assert.Equal(t, StateUninitialized, store.Snapshot().State)

			var seenLoading bool
			p.On("GetSession", mock.Anything).Run(func(mock.Arguments) {
				seenLoading = store.Snapshot().Loading
			}).Return(tt.session, tt.err)

			store.Init(context.Background())

			snap := store.Snapshot()
			assert.True(t, seenLoading, "loading while the provider is asked")
			assert.False(t, snap.Loading)
			assert.Equal(t, tt.wantState, snap.State)
			assert.Equal(t, tt.session, snap.Session)
			p.AssertExpectations(t)
		})
	}
}

func TestStore_SignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("success sets state without waiting for a push", func(t *testing.T) {
		s := newSession("u1", false)
		p := new(MockProvider)
		p.On("SignInWithPassword", mock.Anything, "a@example.com", "secret1").Return(s, nil)
		store := NewStore(p, zap.NewNop())

		require.NoError(t, store.SignIn(ctx, "a@example.com", "secret1"))

		snap := store.Snapshot()
		assert.Equal(t, StateAuthenticated, snap.State)
		require.NotNil(t, snap.User)
		assert.Equal(t, "u1", snap.User.ID)
		assert.Equal(t, "access-u1", store.AccessToken())
	})

	t.Run("rejection is an AuthError and leaves state", func(t *testing.T) {
		p := new(MockProvider)
		p.On("SignInWithPassword", mock.Anything, "a@example.com", "bad").
			Return(nil, &identity.AuthError{Op: "signin", Code: identity.CodeInvalidCredentials})
		store := NewStore(p, zap.NewNop())

		err := store.SignIn(ctx, "a@example.com", "bad")
		var ae *identity.AuthError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, identity.CodeInvalidCredentials, ae.Code)
		assert.Nil(t, store.User())
	})

	t.Run("transport failure is wrapped", func(t *testing.T) {
		p := new(MockProvider)
		p.On("SignInWithPassword", mock.Anything, "a@example.com", "secret1").Return(nil, assert.AnError)
		store := NewStore(p, zap.NewNop())

		err := store.SignIn(ctx, "a@example.com", "secret1")
		var ae *identity.AuthError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, identity.CodeUnexpected, ae.Code)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestStore_ActiveSession(t *testing.T) {
	ctx := context.Background()

	t.Run("signed out never asks the provider", func(t *testing.T) {
		p := new(MockProvider)
		store := NewStore(p, zap.NewNop())

		sess, err := store.ActiveSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
		p.AssertNotCalled(t, "GetSession", mock.Anything)
	})

	t.Run("refreshed token reaches the caller", func(t *testing.T) {
		s := newSession("u1", false)
		p := new(MockProvider)
		p.On("SignInWithPassword", mock.Anything, "a@example.com", "secret1").Return(s, nil)
		refreshed := newSession("u1", false)
		refreshed.Token.AccessToken = "access-u1-rotated"
		p.On("GetSession", mock.Anything).Return(refreshed, nil).Run(func(mock.Arguments) {
			p.push(identity.EventTokenRefreshed, refreshed)
		})
		store := NewStore(p, zap.NewNop())
		require.NoError(t, store.SignIn(ctx, "a@example.com", "secret1"))

		sess, err := store.ActiveSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access-u1-rotated", sess.AccessToken())
		assert.Equal(t, "access-u1-rotated", store.AccessToken())
	})

	t.Run("provider failure is an AuthError", func(t *testing.T) {
		p := new(MockProvider)
		p.On("SignInAnonymously", mock.Anything).Return(newSession("u1", true), nil)
		p.On("GetSession", mock.Anything).Return(nil, assert.AnError)
		store := NewStore(p, zap.NewNop())
		require.NoError(t, store.SignInAnonymously(ctx))

		_, err := store.ActiveSession(ctx)
		var ae *identity.AuthError
		require.ErrorAs(t, err, &ae)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestStore_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmation required keeps session nil", func(t *testing.T) {
		p := new(MockProvider)
		p.On("SignUp", mock.Anything, "n@example.com", "secret1").
			Return(model.User{ID: "u-new"}, nil, nil)
		store := NewStore(p, zap.NewNop())

		pending, err := store.SignUp(ctx, "n@example.com", "secret1")
		require.NoError(t, err)
		assert.True(t, pending)
		assert.Nil(t, store.Snapshot().Session)
	})

	t.Run("immediate session", func(t *testing.T) {
		s := newSession("u-new", false)
		p := new(MockProvider)
		p.On("SignUp", mock.Anything, "n@example.com", "secret1").
			Return(s.User, s, nil)
		store := NewStore(p, zap.NewNop())

		pending, err := store.SignUp(ctx, "n@example.com", "secret1")
		require.NoError(t, err)
		assert.False(t, pending)
		assert.Equal(t, s, store.Snapshot().Session)
	})

	t.Run("duplicate account", func(t *testing.T) {
		p := new(MockProvider)
		p.On("SignUp", mock.Anything, "n@example.com", "secret1").
			Return(model.User{}, nil, &identity.AuthError{Op: "signup", Code: identity.CodeUserExists})
		store := NewStore(p, zap.NewNop())

		_, err := store.SignUp(ctx, "n@example.com", "secret1")
		var ae *identity.AuthError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, identity.CodeUserExists, ae.Code)
	})
}

func TestStore_AnonymousAndSignOut(t *testing.T) {
	ctx := context.Background()
	s := newSession("anon", true)

	p := new(MockProvider)
	p.On("SignInAnonymously", mock.Anything).Return(s, nil)
	p.On("SignOut", mock.Anything).Return(nil).Once()
	p.On("SignOut", mock.Anything).Return(&identity.AuthError{Op: "signout", Code: identity.CodeBadJWT}).Once()
	store := NewStore(p, zap.NewNop())

	require.NoError(t, store.SignInAnonymously(ctx))
	snap := store.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.True(t, snap.User.IsAnonymous)

	require.NoError(t, store.SignOut(ctx))
	assert.Equal(t, StateUnauthenticated, store.Snapshot().State)

	require.NoError(t, store.SignInAnonymously(ctx))
	err := store.SignOut(ctx)
	var ae *identity.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StateAnonymous, store.Snapshot().State, "rejected sign-out keeps the session")
}

func TestStore_PushReplacesState(t *testing.T) {
	p := new(MockProvider)
	store := NewStore(p, zap.NewNop())

	var snaps []Snapshot
	sub := store.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })
	defer sub.Unsubscribe()

	p.push(identity.EventSignedIn, newSession("u1", false))
	assert.Equal(t, StateAuthenticated, store.Snapshot().State)

	p.push(identity.EventTokenRefreshed, newSession("u2", true))
	assert.Equal(t, StateAnonymous, store.Snapshot().State)
	assert.Equal(t, "u2", store.User().ID)

	p.push(identity.EventSignedOut, nil)
	assert.Equal(t, StateUnauthenticated, store.Snapshot().State)
	assert.Nil(t, store.User())

	require.Len(t, snaps, 3)
	assert.Equal(t, StateUnauthenticated, snaps[2].State)
}

func TestStore_CloseReleasesSubscriptionOnce(t *testing.T) {
	p := new(MockProvider)
	store := NewStore(p, zap.NewNop())

	store.Close()
	store.Close()

	p.mu.Lock()
	assert.Equal(t, 1, p.unsubscribed)
	p.mu.Unlock()

	p.push(identity.EventSignedIn, newSession("u1", false))
	assert.Nil(t, store.User(), "pushes after Close are not observed")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
}
