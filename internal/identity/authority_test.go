package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BuzzLyutic/taskstar/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string]Event
}

func (p *recordingPublisher) Publish(_ context.Context, sessionID string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string]Event)
	}
	p.events[sessionID] = ev
	return nil
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, code, ae.Code)
}

func TestAuthority(t *testing.T) {
	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	issuer := NewIssuer([]byte("test-secret"), 15*time.Minute)
	pub := &recordingPublisher{}
	cfg := AuthorityConfig{RefreshTTL: 24 * time.Hour}
	auth := NewAuthority(pool, issuer, pub, zap.NewNop(), cfg)

	testutil.TruncateTables(t, pool)

	t.Run("sign up returns an active session", func(t *testing.T) {
		user, s, err := auth.SignUp(ctx, "  Alice@Example.com ", "secret1")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.NotEmpty(t, user.ID)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, user, s.User)
		assert.NotEmpty(t, s.RefreshToken())

		claims, err := issuer.Verify(s.AccessToken())
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.Subject)
		assert.Equal(t, s.ID, claims.SessionID)
	})

	t.Run("duplicate sign up", func(t *testing.T) {
		_, _, err := auth.SignUp(ctx, "alice@example.com", "another1")
		requireCode(t, err, CodeUserExists)
	})

	t.Run("sign up validation", func(t *testing.T) {
		_, _, err := auth.SignUp(ctx, "not-an-email", "secret1")
		requireCode(t, err, CodeInvalidEmail)

		_, _, err = auth.SignUp(ctx, "bob@example.com", "12345")
		requireCode(t, err, CodeWeakPassword)
	})

	t.Run("sign in", func(t *testing.T) {
		s, err := auth.SignInWithPassword(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", s.User.Email)
		assert.False(t, s.User.IsAnonymous)
	})

	t.Run("sign in rejects bad credentials", func(t *testing.T) {
		_, err := auth.SignInWithPassword(ctx, "alice@example.com", "wrong-password")
		requireCode(t, err, CodeInvalidCredentials)

		_, err = auth.SignInWithPassword(ctx, "nobody@example.com", "secret1")
		requireCode(t, err, CodeInvalidCredentials)
	})

	t.Run("anonymous sign in", func(t *testing.T) {
		s, err := auth.SignInAnonymously(ctx)
		require.NoError(t, err)
		assert.True(t, s.User.IsAnonymous)
		assert.Empty(t, s.User.Email)

		claims, err := issuer.Verify(s.AccessToken())
		require.NoError(t, err)
		assert.Equal(t, RoleAnon, claims.Role)
	})

	t.Run("refresh rotates the refresh token", func(t *testing.T) {
		s, err := auth.SignInWithPassword(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)

		next, err := auth.Refresh(ctx, s.RefreshToken())
		require.NoError(t, err)
		assert.Equal(t, s.ID, next.ID)
		assert.Equal(t, s.User.ID, next.User.ID)
		assert.NotEqual(t, s.RefreshToken(), next.RefreshToken())

		_, err = auth.Refresh(ctx, s.RefreshToken())
		requireCode(t, err, CodeSessionNotFound)
	})

	t.Run("revoke deletes the session and publishes", func(t *testing.T) {
		s, err := auth.SignInWithPassword(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)

		require.NoError(t, auth.Revoke(ctx, s.AccessToken()))

		var count int
		pool.QueryRow(ctx, "SELECT COUNT(*) FROM auth_sessions WHERE id = $1", s.ID).Scan(&count)
		assert.Zero(t, count)

		pub.mu.Lock()
		assert.Equal(t, EventSignedOut, pub.events[s.ID])
		pub.mu.Unlock()

		_, err = auth.Refresh(ctx, s.RefreshToken())
		requireCode(t, err, CodeSessionNotFound)
	})

	t.Run("revoke rejects forged tokens", func(t *testing.T) {
		err := auth.Revoke(ctx, "forged")
		requireCode(t, err, CodeBadJWT)
	})
}

func TestAuthority_EmailConfirmation(t *testing.T) {
	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	issuer := NewIssuer([]byte("test-secret"), 15*time.Minute)
	cfg := AuthorityConfig{RefreshTTL: time.Hour, RequireEmailConfirmation: true}
	core, logs := observer.New(zapcore.DebugLevel)
	auth := NewAuthority(pool, issuer, nil, zap.New(core), cfg)

	testutil.TruncateTables(t, pool)

	user, s, err := auth.SignUp(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	assert.Nil(t, s, "no session until the email is confirmed")
	assert.NotEmpty(t, user.ID)

	_, err = auth.SignInWithPassword(ctx, "carol@example.com", "secret1")
	requireCode(t, err, CodeEmailNotConfirmed)

	var token string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT confirmation_token FROM accounts WHERE id = $1", user.ID).Scan(&token))

	for _, entry := range logs.All() {
		if _, ok := entry.ContextMap()["confirmation_token"]; ok {
			assert.Equal(t, zapcore.DebugLevel, entry.Level, "confirmation token stays out of info logs")
		}
	}
	assert.Equal(t, 1, logs.FilterField(zap.String("confirmation_token", token)).Len())

	confirmed, err := auth.Confirm(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, confirmed.ID)

	_, err = auth.Confirm(ctx, token)
	requireCode(t, err, CodeConfirmationInvalid)

	signedIn, err := auth.SignInWithPassword(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.User.ID)
}

func TestClient_ExpiredAccessTokenAgainstAuthority(t *testing.T) {
	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	testutil.TruncateTables(t, pool)

	issuer := NewIssuer([]byte("test-secret"), 2*time.Second)
	auth := NewAuthority(pool, issuer, &recordingPublisher{}, zap.NewNop(), AuthorityConfig{RefreshTTL: time.Hour})
	c := NewClient(auth, &memStorage{}, nil, zap.NewNop())

	first, err := c.SignInAnonymously(ctx)
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)
	_, err = issuer.Verify(first.AccessToken())
	require.Error(t, err, "sign-in token has expired")

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, s.ID, "same session, new token")
	assert.NotEqual(t, first.RefreshToken(), s.RefreshToken())

	claims, err := issuer.Verify(s.AccessToken())
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, claims.Subject)
}
