package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/pkg/respond"
)

func NewRouter(store *session.Store, auth *AuthHandler, tasks *TaskHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/login", auth.Login)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", auth.SignIn)
		r.Post("/signup", auth.SignUp)
		r.Post("/anonymous", auth.SignInAnonymously)
		r.Post("/signout", auth.SignOut)
		r.Get("/session", auth.Session)
		r.Get("/confirm", auth.Confirm)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(RequireSession(store))

		r.Get("/", tasks.List)
		r.Post("/", tasks.Create)
		r.Post("/reload", tasks.Reload)
		r.Delete("/error", tasks.ClearError)
		r.Patch("/{id}", tasks.UpdateDescription)
		r.Post("/{id}/complete", tasks.ToggleCompletion)
		r.Post("/{id}/star", tasks.ToggleStar)
		r.Delete("/{id}", tasks.Delete)
	})

	return r
}
