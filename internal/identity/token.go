package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

const (
	RoleAuthenticated = "authenticated"
	RoleAnon          = "anon"

	issuerName = "taskstar"
)

var ErrInvalidToken = errors.New("invalid access token")

type Claims struct {
	SessionID   string `json:"session_id"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *Issuer) Issue(user model.User, sessionID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)

	role := RoleAuthenticated
	if user.IsAnonymous {
		role = RoleAnon
	}

	claims := Claims{
		SessionID:   sessionID,
		Email:       user.Email,
		IsAnonymous: user.IsAnonymous,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry.
func (i *Issuer) Verify(token string) (*Claims, error) {
	return i.parse(token, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
}

// VerifySignature checks the signature only. Sign-out accepts expired tokens.
func (i *Issuer) VerifySignature(token string) (*Claims, error) {
	return i.parse(token, jwt.WithoutClaimsValidation())
}

func (i *Issuer) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
	)

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's access token to ctx. The task
// repository scopes every statement by the token's subject.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

func AccessTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}
