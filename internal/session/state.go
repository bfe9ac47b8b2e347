package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/role"
)

type State int

const (
	Loading State = iota
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Loading:
		return "LOADING"
	case Authenticated:
		return "AUTHENTICATED"
	case Anonymous:
		return "ANONYMOUS"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is one published state. Session, User and Roles are only set
// when State is Authenticated.
type Snapshot struct {
	Version uint64
	State   State
	Session *identity.Session
	User    *identity.User
	Roles   role.Set
}

func (s Snapshot) IsAuthenticated() bool { return s.State == Authenticated }
func (s Snapshot) IsOwner() bool         { return s.Roles.IsOwner() }
func (s Snapshot) IsAdmin() bool         { return s.Roles.IsAdmin() }
func (s Snapshot) IsCourier() bool       { return s.Roles.IsCourier() }
func (s Snapshot) IsOwnerOrAdmin() bool  { return s.Roles.IsOwnerOrAdmin() }

// Permissions combines the snapshot's roles with the user's stored section
// rows.
func (s Snapshot) Permissions(rows []permission.Row) *permission.Resolver {
	return permission.NewResolver(s.Roles, rows)
}

// RoleSource looks up the roles of the user a token belongs to.
type RoleSource interface {
	FetchRoles(ctx context.Context, accessToken string) (role.Set, error)
}

// Context tracks the session of one client and the roles that go with it.
// A session and its roles are always published together: no watcher ever
// sees an authenticated snapshot whose roles have not been loaded yet.
type Context struct {
	client *Client
	roles  RoleSource
	logger *slog.Logger

	// applyMu orders state changes together with their delivery to watchers.
	applyMu sync.Mutex

	mu          sync.RWMutex
	snap        Snapshot
	watchers    map[uint64]func(Snapshot)
	nextWatcher uint64
	unsubscribe func()
}

func NewContext(client *Client, roles RoleSource, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		client:   client,
		roles:    roles,
		logger:   logger,
		snap:     Snapshot{State: Loading},
		watchers: make(map[uint64]func(Snapshot)),
	}
}

// Start subscribes to session changes and only then reads the current
// session, so a change landing in between is not lost. If the roles of an
// existing session cannot be loaded the context settles as anonymous.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return fmt.Errorf("session context already started")
	}
	c.unsubscribe = c.client.Subscribe(c.onChange)
	c.mu.Unlock()

	sess := c.client.GetSession()
	if sess == nil {
		c.settle(Snapshot{State: Anonymous})
		return nil
	}
	if err := c.authenticate(ctx, sess); err != nil {
		c.settle(Snapshot{State: Anonymous})
		return err
	}
	return nil
}

// Stop detaches from the client. Watchers are kept.
func (c *Context) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Login applies a session whose roles the login call already returned, in a
// single transition, and then hands the session to the client. The SignedIn
// notification that follows carries the same access token and is absorbed.
func (c *Context) Login(ctx context.Context, sess *identity.Session, roles role.Set) error {
	if sess == nil {
		return ErrNoSession
	}
	if roles == nil {
		roles = role.NewSet()
	}
	c.apply(Snapshot{State: Authenticated, Session: sess, User: sess.User, Roles: roles})

	if _, err := c.client.SetSession(ctx, sess.Tokens()); err != nil {
		// A refresh may have installed a session on the client before the
		// roles for it failed to load; drop it so both sides agree.
		if signOutErr := c.SignOut(ctx); signOutErr != nil {
			c.logger.Warn("drop session after failed login", "error", signOutErr)
		}
		return err
	}
	return nil
}

// SignOut clears session, user and roles.
func (c *Context) SignOut(ctx context.Context) error {
	err := c.client.SignOut(ctx)
	if c.Snapshot().State != Anonymous {
		c.apply(Snapshot{State: Anonymous})
	}
	return err
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Watch calls fn with every snapshot published from now on. fn runs while
// the transition is being applied and must not call back into Login,
// SignOut or Start.
func (c *Context) Watch(fn func(Snapshot)) func() {
	c.mu.Lock()
	c.nextWatcher++
	id := c.nextWatcher
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Context) onChange(ctx context.Context, change Change) error {
	switch change.Event {
	case SignedOut:
		c.apply(Snapshot{State: Anonymous})
		return nil
	case SignedIn, TokenRefreshed:
		if change.Session == nil {
			return nil
		}
		if c.applied(change.Session.AccessToken) {
			c.logger.Debug("session change already applied", "event", string(change.Event))
			return nil
		}
		return c.authenticate(ctx, change.Session)
	default:
		return nil
	}
}

func (c *Context) applied(accessToken string) bool {
	snap := c.Snapshot()
	return snap.State == Authenticated && snap.Session != nil && snap.Session.AccessToken == accessToken
}

// authenticate loads roles first and publishes the session with them.
func (c *Context) authenticate(ctx context.Context, sess *identity.Session) error {
	roles, err := c.roles.FetchRoles(ctx, sess.AccessToken)
	if err != nil {
		c.logger.Warn("fetch roles failed", "error", err)
		return fmt.Errorf("fetch roles: %w", err)
	}
	c.apply(Snapshot{State: Authenticated, Session: sess, User: sess.User, Roles: roles})
	return nil
}

// settle leaves Loading. It does nothing once another path has already
// published a state.
func (c *Context) settle(s Snapshot) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.Snapshot().State != Loading {
		return
	}
	c.publish(s)
}

func (c *Context) apply(s Snapshot) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.publish(s)
}

// publish requires applyMu.
func (c *Context) publish(s Snapshot) {
	c.mu.Lock()
	s.Version = c.snap.Version + 1
	if s.State != Authenticated {
		s.Session, s.User, s.Roles = nil, nil, role.NewSet()
	}
	c.snap = s
	watchers := make([]func(Snapshot), 0, len(c.watchers))
	for _, id := range slices.Sorted(maps.Keys(c.watchers)) {
		watchers = append(watchers, c.watchers[id])
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(s)
	}
}
