package role

import (
	"context"
	"errors"
	"sort"
)

type Role string

const (
	Owner   Role = "owner"
	Admin   Role = "admin"
	Courier Role = "courier"
)

var ErrUnknownRole = errors.New("unknown role")

func Parse(s string) (Role, error) {
	switch r := Role(s); r {
	case Owner, Admin, Courier:
		return r, nil
	}
	return "", ErrUnknownRole
}

func (r Role) Valid() bool {
	_, err := Parse(string(r))
	return err == nil
}

// Assignable reports whether r may be granted through the admin API. Owners
// only come from the bootstrap path.
func (r Role) Assignable() bool {
	return r == Admin || r == Courier
}

// Set is the collection of roles one user holds.
type Set []Role

func NewSet(roles ...Role) Set {
	s := Set{}
	for _, r := range roles {
		if !s.Has(r) {
			s = append(s, r)
		}
	}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

func (s Set) Has(r Role) bool {
	for _, held := range s {
		if held == r {
			return true
		}
	}
	return false
}

func (s Set) IsOwner() bool        { return s.Has(Owner) }
func (s Set) IsAdmin() bool        { return s.Has(Admin) }
func (s Set) IsCourier() bool      { return s.Has(Courier) }
func (s Set) IsOwnerOrAdmin() bool { return s.IsOwner() || s.IsAdmin() }
func (s Set) Empty() bool          { return len(s) == 0 }

func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// Store persists user -> role assignments.
type Store interface {
	FetchRoles(ctx context.Context, userID string) (Set, error)
	Assign(ctx context.Context, userID string, r Role) error
	DeleteAll(ctx context.Context, userID string) error
}
