// Package session keeps the signed-in state on the client side: the current
// provider session and the roles of the user behind it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

// ChangeEvent names a session transition reported to subscribers.
type ChangeEvent string

const (
	SignedIn       ChangeEvent = "SIGNED_IN"
	TokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
	SignedOut      ChangeEvent = "SIGNED_OUT"
)

const changeEventType = "session.changed"

// expirySkew treats tokens this close to expiry as already expired.
const expirySkew = 10 * time.Second

var ErrNoSession = errors.New("no active session")

// Backend is the remote side of the provider as seen from a client.
type Backend interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error)
}

// Change is delivered to subscribers once per transition. Session is nil for
// SignedOut.
type Change struct {
	Event   ChangeEvent
	Session *identity.Session
}

type changeNotice struct {
	events.BaseEvent
	change Change
}

// Client holds the current session and reports every change to subscribers
// synchronously, on the goroutine that caused it.
type Client struct {
	backend Backend
	bus     *events.EventBus
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *identity.Session
}

func NewClient(backend Backend, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend: backend,
		bus:     events.NewEventBus(logger),
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Client) GetSession() *identity.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Subscribe registers fn for every later change. The returned func removes it.
// An error from fn is returned to whoever caused the change.
func (c *Client) Subscribe(fn func(ctx context.Context, change Change) error) func() {
	return c.bus.Subscribe(changeEventType, func(ctx context.Context, event events.Event) error {
		notice, ok := event.(changeNotice)
		if !ok {
			return nil
		}
		return fn(ctx, notice.change)
	})
}

// SetSession installs a session from a token pair. An expired access token is
// exchanged through the refresh token first, which is reported as
// TokenRefreshed instead of SignedIn.
func (c *Client) SetSession(ctx context.Context, tokens identity.Tokens) (*identity.Session, error) {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, fmt.Errorf("set session: access and refresh token are required")
	}

	exp, ok := c.expiry(tokens.AccessToken)
	if ok && !c.now().Add(expirySkew).Before(exp) {
		refreshed, err := c.backend.RefreshSession(ctx, tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("refresh expired session: %w", err)
		}
		return refreshed, c.install(ctx, TokenRefreshed, refreshed)
	}

	u, err := c.backend.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	sess := &identity.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "bearer",
		User:         u,
	}
	if ok {
		sess.ExpiresAt = exp.Unix()
		sess.ExpiresIn = int64(exp.Sub(c.now()).Seconds())
	}
	return sess, c.install(ctx, SignedIn, sess)
}

// Refresh exchanges the current refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (*identity.Session, error) {
	current := c.GetSession()
	if current == nil {
		return nil, ErrNoSession
	}
	refreshed, err := c.backend.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return refreshed, c.install(ctx, TokenRefreshed, refreshed)
}

// SignOut drops the session. Nothing is reported when there was none.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	had := c.current != nil
	c.current = nil
	c.mu.Unlock()

	if !had {
		return nil
	}
	return c.notify(ctx, Change{Event: SignedOut})
}

func (c *Client) install(ctx context.Context, event ChangeEvent, sess *identity.Session) error {
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	return c.notify(ctx, Change{Event: event, Session: sess})
}

func (c *Client) notify(ctx context.Context, change Change) error {
	c.logger.Debug("session changed", "event", string(change.Event))
	notice := changeNotice{
		BaseEvent: events.NewBaseEvent(changeEventType, map[string]interface{}{"event": string(change.Event)}),
		change:    change,
	}
	return c.bus.PublishSync(ctx, notice)
}

// expiry reads the exp claim without verifying the signature; the server
// remains the authority on validity.
func (c *Client) expiry(accessToken string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
