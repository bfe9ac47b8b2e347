package permission

import "github.com/frahmantamala/courier-backoffice/internal/role"

const (
	DefaultRoute = "/"
	LoginRoute   = "/login"
)

// Decision is the outcome of a navigation check.
type Decision struct {
	Allowed  bool
	Redirect string
}

// Guard gates navigation for the current user. A nil resolver means no one
// is signed in.
type Guard struct {
	resolver *Resolver
}

func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// Route decides whether path may be rendered. Unknown paths, hidden
// sections and unmet role requirements redirect to a safe route instead of
// rendering a broken page.
func (g *Guard) Route(path string) Decision {
	if g.resolver == nil {
		return Decision{Redirect: LoginRoute}
	}
	section, ok := SectionFromPath(path)
	if ok && g.allows(section) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: g.fallback()}
}

// Visible lists the sections navigation should offer, in catalogue order.
func (g *Guard) Visible() []SectionInfo {
	if g.resolver == nil {
		return nil
	}
	var out []SectionInfo
	for _, info := range catalogue {
		if g.allows(info.Key) {
			out = append(out, info)
		}
	}
	return out
}

func (g *Guard) allows(section Section) bool {
	info, ok := catalogueIndex[section]
	if !ok {
		return false
	}
	if !meets(g.resolver.Roles(), info.Requirement) {
		return false
	}
	return g.resolver.CanView(section)
}

func (g *Guard) fallback() string {
	if g.allows(SectionDashboard) {
		return DefaultRoute
	}
	for _, info := range catalogue {
		if g.allows(info.Key) {
			return info.Path
		}
	}
	return LoginRoute
}

func meets(roles role.Set, req Requirement) bool {
	switch req {
	case RequireOwnerOrAdmin:
		return roles.IsOwnerOrAdmin()
	default:
		return true
	}
}
