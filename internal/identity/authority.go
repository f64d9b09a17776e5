package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

const MinPasswordLength = 6

// Publisher fans session events out to other processes.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, ev Event) error
}

type AuthorityConfig struct {
	RefreshTTL               time.Duration
	RequireEmailConfirmation bool
}

// Authority is the server side of the identity provider: accounts and
// sessions in Postgres, passwords hashed with bcrypt, access tokens signed
// by the Issuer.
type Authority struct {
	pool   *pgxpool.Pool
	issuer *Issuer
	events Publisher
	logger *zap.Logger
	cfg    AuthorityConfig
	now    func() time.Time
}

func NewAuthority(pool *pgxpool.Pool, issuer *Issuer, events Publisher, logger *zap.Logger, cfg AuthorityConfig) *Authority {
	return &Authority{
		pool:   pool,
		issuer: issuer,
		events: events,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (a *Authority) SignUp(ctx context.Context, email, password string) (model.User, *model.Session, error) {
	const op = "signup"

	email = normalizeEmail(email)
	if err := validateCredentials(op, email, password); err != nil {
		return model.User{}, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, nil, &AuthError{Op: op, Code: CodeUnexpected, Err: err}
	}

	var confirmToken *string
	if a.cfg.RequireEmailConfirmation {
		tok := uuid.NewString()
		confirmToken = &tok
	}

	user := model.User{Email: email}
	err = a.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, confirmation_token, confirmed_at)
		VALUES ($1, $2, $3::text, CASE WHEN $3::text IS NULL THEN now() END)
		RETURNING id::text
	`, email, string(hash), confirmToken).Scan(&user.ID)
	if err != nil {
		return model.User{}, nil, a.mapError(op, err)
	}

	if confirmToken != nil {
		a.logger.Debug("Account awaiting email confirmation",
			zap.String("user_id", user.ID),
			zap.String("confirmation_token", *confirmToken),
		)
		return user, nil, nil
	}

	s, err := a.newSession(ctx, op, user)
	if err != nil {
		return user, nil, err
	}
	return user, s, nil
}

func (a *Authority) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	const op = "signin"

	var (
		user      model.User
		hash      string
		confirmed bool
	)
	err := a.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, confirmed_at IS NOT NULL
		FROM accounts
		WHERE email = $1 AND NOT is_anonymous
	`, normalizeEmail(email)).Scan(&user.ID, &user.Email, &hash, &confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invalidCredentials(op)
	}
	if err != nil {
		return nil, a.mapError(op, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, invalidCredentials(op)
	}
	if !confirmed {
		return nil, &AuthError{Op: op, Code: CodeEmailNotConfirmed, Message: "Email not confirmed"}
	}

	return a.newSession(ctx, op, user)
}

func (a *Authority) SignInAnonymously(ctx context.Context) (*model.Session, error) {
	const op = "signin_anonymous"

	user := model.User{IsAnonymous: true}
	err := a.pool.QueryRow(ctx, `
		INSERT INTO accounts (is_anonymous, confirmed_at)
		VALUES (true, now())
		RETURNING id::text
	`).Scan(&user.ID)
	if err != nil {
		return nil, a.mapError(op, err)
	}

	return a.newSession(ctx, op, user)
}

// Refresh rotates the refresh token and mints a new access token.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	const op = "refresh"

	if refreshToken == "" {
		return nil, &AuthError{Op: op, Code: CodeSessionNotFound, Message: "Refresh token missing"}
	}

	var (
		sessionID string
		user      model.User
	)
	next := newRefreshToken()
	err := a.pool.QueryRow(ctx, `
		UPDATE auth_sessions s
		SET refresh_token = $2, expires_at = $3
		FROM accounts a
		WHERE s.refresh_token = $1 AND s.expires_at > now() AND a.id = s.user_id
		RETURNING s.id::text, a.id::text, COALESCE(a.email, ''), a.is_anonymous
	`, refreshToken, next, a.now().Add(a.cfg.RefreshTTL)).Scan(&sessionID, &user.ID, &user.Email, &user.IsAnonymous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &AuthError{Op: op, Code: CodeSessionNotFound, Message: "Session expired or revoked"}
	}
	if err != nil {
		return nil, a.mapError(op, err)
	}

	return a.mint(op, user, sessionID, next)
}

// Revoke ends the session named by the access token. Expired tokens are
// accepted; forged ones are not.
func (a *Authority) Revoke(ctx context.Context, accessToken string) error {
	const op = "signout"

	claims, err := a.issuer.VerifySignature(accessToken)
	if err != nil {
		return &AuthError{Op: op, Code: CodeBadJWT, Message: "Invalid session token", Err: err}
	}

	if _, err := a.pool.Exec(ctx, "DELETE FROM auth_sessions WHERE id = $1", claims.SessionID); err != nil {
		return a.mapError(op, err)
	}

	if a.events != nil {
		if err := a.events.Publish(ctx, claims.SessionID, EventSignedOut); err != nil {
			a.logger.Warn("failed to publish sign-out", zap.String("session_id", claims.SessionID), zap.Error(err))
		}
	}
	return nil
}

// Confirm marks the account holding the confirmation token as confirmed.
func (a *Authority) Confirm(ctx context.Context, token string) (model.User, error) {
	const op = "confirm"

	var user model.User
	err := a.pool.QueryRow(ctx, `
		UPDATE accounts
		SET confirmed_at = now(), confirmation_token = NULL
		WHERE confirmation_token = $1
		RETURNING id::text, COALESCE(email, '')
	`, token).Scan(&user.ID, &user.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return user, &AuthError{Op: op, Code: CodeConfirmationInvalid, Message: "Confirmation link is invalid or was already used"}
	}
	if err != nil {
		return user, a.mapError(op, err)
	}
	return user, nil
}

func (a *Authority) newSession(ctx context.Context, op string, user model.User) (*model.Session, error) {
	refresh := newRefreshToken()

	var sessionID string
	err := a.pool.QueryRow(ctx, `
		INSERT INTO auth_sessions (user_id, refresh_token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, user.ID, refresh, a.now().Add(a.cfg.RefreshTTL)).Scan(&sessionID)
	if err != nil {
		return nil, a.mapError(op, err)
	}

	return a.mint(op, user, sessionID, refresh)
}

func (a *Authority) mint(op string, user model.User, sessionID, refresh string) (*model.Session, error) {
	access, exp, err := a.issuer.Issue(user, sessionID)
	if err != nil {
		return nil, &AuthError{Op: op, Code: CodeUnexpected, Err: err}
	}

	return &model.Session{
		ID:   sessionID,
		User: user,
		Token: &oauth2.Token{
			AccessToken:  access,
			TokenType:    "bearer",
			RefreshToken: refresh,
			Expiry:       exp,
		},
	}, nil
}

func (a *Authority) mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &AuthError{Op: op, Code: CodeUserExists, Message: "User already registered"}
	}
	return &AuthError{Op: op, Code: CodeUnexpected, Err: err}
}

func validateCredentials(op, email, password string) error {
	if i := strings.Index(email, "@"); i <= 0 || i == len(email)-1 {
		return &AuthError{Op: op, Code: CodeInvalidEmail, Message: "Email address is invalid"}
	}
	if len(password) < MinPasswordLength {
		return &AuthError{Op: op, Code: CodeWeakPassword, Message: "Password must be at least 6 characters"}
	}
	return nil
}

func invalidCredentials(op string) error {
	return &AuthError{Op: op, Code: CodeInvalidCredentials, Message: "Invalid login credentials"}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newRefreshToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
