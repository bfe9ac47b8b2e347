// Package user owns back-office staff accounts: their profiles and the
// owner/admin lifecycle operations (create, rotate login code, delete).
package user

import (
	"context"
	"time"

	userDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/user"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/role"
)

// Profile is the display record kept next to every identity.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Profile) ToDataModel() *userDatamodel.Profile {
	return &userDatamodel.Profile{
		ID:        p.ID,
		FullName:  p.FullName,
		Phone:     p.Phone,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func FromDataModel(dm *userDatamodel.Profile) *Profile {
	return &Profile{
		ID:        dm.ID,
		FullName:  dm.FullName,
		Phone:     dm.Phone,
		IsActive:  dm.IsActive,
		CreatedAt: dm.CreatedAt,
		UpdatedAt: dm.UpdatedAt,
	}
}

// Summary is one row of the staff listing.
type Summary struct {
	Profile
	Roles []string `json:"roles"`
}

// Caller is the identity behind a request's access token together with the
// roles it held when the request was verified.
type Caller struct {
	User  *identity.User
	Roles role.Set
}

func (c *Caller) ID() string {
	if c == nil || c.User == nil {
		return ""
	}
	return c.User.ID
}

type ctxKey struct{}

func ContextWithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func CallerFromContext(ctx context.Context) (*Caller, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(ctxKey{}).(*Caller)
	return c, ok && c != nil
}
