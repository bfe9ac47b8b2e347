package permission

import "github.com/frahmantamala/courier-backoffice/internal/role"

// Resolve returns the effective level of section for a user holding roles,
// given that user's stored overrides.
func Resolve(roles role.Set, section Section, overrides map[Section]Level) Level {
	if roles.IsOwner() {
		return LevelEdit
	}
	if level, ok := overrides[section]; ok {
		return level
	}
	return LevelEdit
}

// Resolver answers capability questions for one user.
type Resolver struct {
	roles     role.Set
	overrides map[Section]Level
}

func NewResolver(roles role.Set, rows []Row) *Resolver {
	overrides := make(map[Section]Level, len(rows))
	for _, row := range rows {
		overrides[row.Section] = row.Level
	}
	return &Resolver{roles: roles, overrides: overrides}
}

func (r *Resolver) Roles() role.Set { return r.roles }

func (r *Resolver) Permission(section Section) Level {
	return Resolve(r.roles, section, r.overrides)
}

func (r *Resolver) CanView(section Section) bool  { return r.Permission(section).CanView() }
func (r *Resolver) CanEdit(section Section) bool  { return r.Permission(section).CanEdit() }
func (r *Resolver) IsHidden(section Section) bool { return r.Permission(section).IsHidden() }

// Effective lists the level of every catalogue section.
func (r *Resolver) Effective() map[Section]Level {
	out := make(map[Section]Level, len(catalogue))
	for _, info := range catalogue {
		out[info.Key] = r.Permission(info.Key)
	}
	return out
}
