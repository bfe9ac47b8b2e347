// Package identity is the backing identity provider: it owns credentials,
// issues sessions and performs administrative account changes. It carries no
// role or permission logic.
package identity

import (
	"context"
	"net/http"
	"time"
)

type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type User struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailConfirmedAt *time.Time   `json:"email_confirmed_at,omitempty"`
	Metadata         UserMetadata `json:"user_metadata"`
	LastSignInAt     *time.Time   `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Tokens is the minimal pair a client needs to restore a session.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

func (s *Session) Tokens() Tokens {
	return Tokens{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

type CreateUserParams struct {
	Email        string
	Password     string
	EmailConfirm bool
	Metadata     UserMetadata
}

// UpdateUserParams changes only the non-nil fields, in one write.
type UpdateUserParams struct {
	Email    *string
	Password *string
}

// Provider is the surface the rest of the service consumes.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	UpdateUserByID(ctx context.Context, id string, params UpdateUserParams) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// ProviderError is a provider-level failure whose message is meant to be
// shown to the caller unchanged.
type ProviderError struct {
	Message string
	Status  int
}

func (e *ProviderError) Error() string { return e.Message }

var (
	ErrInvalidCredentials = &ProviderError{Message: "Invalid login credentials", Status: http.StatusBadRequest}
	ErrEmailNotConfirmed  = &ProviderError{Message: "Email not confirmed", Status: http.StatusBadRequest}
	ErrEmailExists        = &ProviderError{Message: "A user with this email address has already been registered", Status: http.StatusUnprocessableEntity}
	ErrUserNotFound       = &ProviderError{Message: "User not found", Status: http.StatusNotFound}
	ErrWeakPassword       = &ProviderError{Message: "Password should be at least 6 characters", Status: http.StatusUnprocessableEntity}
	ErrInvalidEmail       = &ProviderError{Message: "Unable to validate email address: invalid format", Status: http.StatusBadRequest}
	ErrInvalidJWT         = &ProviderError{Message: "Invalid JWT", Status: http.StatusUnauthorized}
	ErrJWTExpired         = &ProviderError{Message: "JWT expired", Status: http.StatusUnauthorized}
	ErrSessionRevoked     = &ProviderError{Message: "Session has been revoked", Status: http.StatusUnauthorized}
)

const MinPasswordLength = 6
