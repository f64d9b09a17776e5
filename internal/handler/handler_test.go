package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/app"
	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/internal/testutil/fake"
)

type stubConfirmer struct {
	tokens map[string]model.User
}

func (s *stubConfirmer) Confirm(_ context.Context, token string) (model.User, error) {
	user, ok := s.tokens[token]
	if !ok {
		return model.User{}, &identity.AuthError{Op: "confirm", Code: identity.CodeConfirmationInvalid, Message: "Confirmation link is invalid or was already used"}
	}
	delete(s.tokens, token)
	return user, nil
}

type testEnv struct {
	router   http.Handler
	provider *fake.Provider
	repo     *fake.Repo
	store    *session.Store
}

// newEnv builds the router over in-memory collaborators. The store is not
// initialised unless init is set.
func newEnv(t *testing.T, init bool) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	p := fake.NewProvider()
	p.AddAccount("alice@example.com", "secret1")
	r := fake.NewRepo()

	store := session.NewStore(p, logger)
	t.Cleanup(store.Close)
	if init {
		store.Init(context.Background())
	}

	ws := app.NewWorkspace(store, r, logger)
	t.Cleanup(ws.Close)

	confirmer := &stubConfirmer{tokens: map[string]model.User{
		"good-token": {ID: "user-new", Email: "new@example.com"},
	}}

	return &testEnv{
		router:   NewRouter(store, NewAuthHandler(store, confirmer, logger), NewTaskHandler(ws, logger)),
		provider: p,
		repo:     r,
		store:    store,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.SignIn(context.Background(), "alice@example.com", "secret1"))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}
