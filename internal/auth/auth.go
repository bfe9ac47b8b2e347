// Package auth signs staff in with their login code, provisions the owner
// account on first use of the master password, and serves the multiplexed
// auth endpoint.
package auth

import (
	"github.com/frahmantamala/courier-backoffice/internal/identity"
)

const (
	ActionLogin          = "login"
	ActionCreateUser     = "create-user"
	ActionUpdatePassword = "update-password"
	ActionDeleteUser     = "delete-user"
)

// OwnerFullName is the profile name given to the bootstrapped owner.
const OwnerFullName = "Owner"

// LoginResult is one coherent authenticated state: the session together
// with the roles its user held when it was issued.
type LoginResult struct {
	Session *identity.Session `json:"session"`
	User    *identity.User    `json:"user"`
	Roles   []string          `json:"roles"`
}

// CurrentUser is the body of GET /auth/user.
type CurrentUser struct {
	User  *identity.User `json:"user"`
	Roles []string       `json:"roles"`
}
