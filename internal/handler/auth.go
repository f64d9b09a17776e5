package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/model"
	"github.com/BuzzLyutic/taskstar/internal/session"
	"github.com/BuzzLyutic/taskstar/pkg/respond"
)

// Confirmer redeems email confirmation tokens. *identity.Authority
// implements it.
type Confirmer interface {
	Confirm(ctx context.Context, token string) (model.User, error)
}

type AuthHandler struct {
	store     *session.Store
	confirmer Confirmer
	logger    *zap.Logger
}

func NewAuthHandler(store *session.Store, confirmer Confirmer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		store:     store,
		confirmer: confirmer,
		logger:    logger,
	}
}

type credentialsRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
	Next            string `json:"next,omitempty"`
}

type sessionResponse struct {
	State    string      `json:"state"`
	Loading  bool        `json:"loading"`
	User     *model.User `json:"user"`
	Redirect string      `json:"redirect,omitempty"`
}

type messageResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	User    *model.User `json:"user,omitempty"`
}

// Login describes the login screen. A signed-in user is sent on to next.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := SafeRedirect(r.URL.Query().Get("next"))
	if h.store.User() != nil {
		respond.Redirect(w, r, next)
		return
	}
	resp := h.sessionResponse()
	resp.Redirect = next
	respond.JSON(w, r, http.StatusOK, resp)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.authError(w, r, err)
		return
	}

	resp := h.sessionResponse()
	resp.Redirect = SafeRedirect(req.Next)
	respond.JSON(w, r, http.StatusOK, resp)
}

// SignUp checks the confirmation field and password length before asking
// the provider, so those mistakes never reach it.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Password != req.ConfirmPassword {
		respond.CodedError(w, r, http.StatusUnprocessableEntity, "password_mismatch", "Passwords do not match")
		return
	}
	if len(req.Password) < identity.MinPasswordLength {
		respond.CodedError(w, r, http.StatusUnprocessableEntity, identity.CodeWeakPassword, "Password must be at least 6 characters")
		return
	}

	pending, err := h.store.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(w, r, err)
		return
	}
	if pending {
		respond.JSON(w, r, http.StatusAccepted, messageResponse{
			Status:  "confirmation_required",
			Message: "Check your email to confirm your account",
		})
		return
	}

	resp := h.sessionResponse()
	resp.Redirect = "/"
	respond.JSON(w, r, http.StatusCreated, resp)
}

func (h *AuthHandler) SignInAnonymously(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SignInAnonymously(r.Context()); err != nil {
		h.authError(w, r, err)
		return
	}
	resp := h.sessionResponse()
	resp.Redirect = "/"
	respond.JSON(w, r, http.StatusOK, resp)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SignOut(r.Context()); err != nil {
		h.authError(w, r, err)
		return
	}
	respond.NoContent(w, r)
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, r, http.StatusOK, h.sessionResponse())
}

func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respond.CodedError(w, r, http.StatusUnprocessableEntity, identity.CodeConfirmationInvalid, "Missing confirmation token")
		return
	}

	user, err := h.confirmer.Confirm(r.Context(), token)
	if err != nil {
		h.authError(w, r, identity.AsAuthError("confirm", err))
		return
	}

	respond.JSON(w, r, http.StatusOK, messageResponse{
		Status:  "confirmed",
		Message: "Email confirmed, you can sign in now",
		User:    &user,
	})
}

func (h *AuthHandler) sessionResponse() sessionResponse {
	snap := h.store.Snapshot()
	return sessionResponse{
		State:   snap.State.String(),
		Loading: snap.Loading,
		User:    snap.User,
	}
}

func (h *AuthHandler) authError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *identity.AuthError
	if !errors.As(err, &ae) {
		ae = identity.AsAuthError("auth", err)
	}

	code := http.StatusUnauthorized
	switch ae.Code {
	case identity.CodeUserExists:
		code = http.StatusConflict
	case identity.CodeWeakPassword, identity.CodeInvalidEmail, identity.CodeConfirmationInvalid:
		code = http.StatusUnprocessableEntity
	case identity.CodeUnexpected:
		code = http.StatusInternalServerError
		h.logger.Error("identity provider failed", zap.String("op", ae.Op), zap.Error(err))
	}

	msg := ae.Message
	if msg == "" {
		msg = ae.Code
	}
	respond.CodedError(w, r, code, ae.Code, msg)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
