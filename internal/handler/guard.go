package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/pkg/respond"
)

const loginPath = "/login"

// RequireSession lets a request through only once the session is known and
// a user is signed in. Unauthenticated requests are sent to the login page
// with the original target in next.
func RequireSession(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := store.Snapshot()
			switch snap.State {
			case session.StateUninitialized, session.StateLoading:
				w.Header().Set("Retry-After", "1")
				respond.Error(w, r, http.StatusServiceUnavailable, "Loading session")
				return
			case session.StateUnauthenticated:
				respond.Redirect(w, r, loginPath+"?next="+url.QueryEscape(r.URL.RequestURI()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SafeRedirect returns next if it is a local absolute path, "/" otherwise.
func SafeRedirect(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}
