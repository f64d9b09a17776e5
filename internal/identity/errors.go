package identity

import (
	"errors"
	"fmt"
)

// Error codes returned by the identity provider.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeUserExists          = "user_already_exists"
	CodeWeakPassword        = "weak_password"
	CodeInvalidEmail        = "email_address_invalid"
	CodeEmailNotConfirmed   = "email_not_confirmed"
	CodeSessionNotFound     = "session_not_found"
	CodeBadJWT              = "bad_jwt"
	CodeConfirmationInvalid = "confirmation_invalid"
	CodeUnexpected          = "unexpected_failure"
)

// AuthError is an identity operation rejected by the provider.
type AuthError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AsAuthError returns err as an *AuthError, wrapping anything else as an
// unexpected failure of op.
func AsAuthError(op string, err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &AuthError{Op: op, Code: CodeUnexpected, Message: "identity provider unavailable", Err: err}
}
