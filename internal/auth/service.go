package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/credential"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
)

type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p *user.Profile) error
}

// Service is the main auth service with dependencies
type Service struct {
	provider       identity.Provider
	roles          role.Store
	profiles       ProfileWriter
	masterPassword string
	events         events.Publisher
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewService creates a new auth service. An empty masterPassword disables
// the owner bootstrap.
func NewService(provider identity.Provider, roles role.Store, profiles ProfileWriter, masterPassword string, bus events.Publisher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:       provider,
		roles:          roles,
		profiles:       profiles,
		masterPassword: masterPassword,
		events:         bus,
		metrics:        metrics,
		logger:         logger,
	}
}

// Login signs in with a login code. When sign-in fails and the code is the
// master password, the owner account is created once and signed in.
// Every other failure is the same 401 so accounts cannot be enumerated.
func (s *Service) Login(ctx context.Context, password string) (*LoginResult, error) {
	if password == "" {
		s.metrics.Login(observability.OutcomeInvalid)
		return nil, internal.ErrPasswordRequired
	}

	email := credential.CodeToEmail(password)
	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		var pe *identity.ProviderError
		if !errors.As(err, &pe) {
			s.metrics.Login(observability.OutcomeFailure)
			return nil, internal.NewInternalError("sign-in failed", err)
		}
		if !s.isMasterPassword(password) {
			s.logger.Info("login rejected", "reason", pe.Message)
			s.metrics.Login(observability.OutcomeFailure)
			return nil, internal.ErrIncorrectPassword
		}

		session, err = s.bootstrapOwner(ctx, email, password)
		if err != nil {
			s.metrics.Login(observability.OutcomeFailure)
			return nil, err
		}
	}

	roles, err := s.roles.FetchRoles(ctx, session.User.ID)
	if err != nil {
		s.metrics.Login(observability.OutcomeFailure)
		return nil, internal.NewInternalError("failed to load roles", err)
	}

	s.metrics.Login(observability.OutcomeSuccess)
	s.logger.Info("login succeeded", "user_id", session.User.ID, "roles", roles.Strings())
	return &LoginResult{Session: session, User: session.User, Roles: roles.Strings()}, nil
}

// bootstrapOwner runs only after sign-in with the master password failed.
// A creation failure, including a concurrent bootstrap that won the race,
// is surfaced as is and creation is never retried.
func (s *Service) bootstrapOwner(ctx context.Context, email, password string) (*identity.Session, error) {
	s.logger.Warn("master password presented without an owner account, bootstrapping")

	created, err := s.provider.CreateUser(ctx, identity.CreateUserParams{
		Email:        email,
		Password:     password,
		EmailConfirm: true,
		Metadata:     identity.UserMetadata{FullName: OwnerFullName},
	})
	if err != nil {
		s.metrics.OwnerBootstrap(observability.OutcomeFailure)
		s.logger.Error("owner bootstrap: create failed", "error", err)
		return nil, internal.NewExternalError(err)
	}

	if err := s.roles.Assign(ctx, created.ID, role.Owner); err != nil {
		s.metrics.OwnerBootstrap(observability.OutcomeFailure)
		s.logger.Error("owner bootstrap: role assignment failed", "user_id", created.ID, "error", err)
		return nil, internal.NewExternalError(err)
	}

	if s.profiles != nil {
		if err := s.profiles.UpsertProfile(ctx, &user.Profile{ID: created.ID, FullName: OwnerFullName, IsActive: true}); err != nil {
			s.logger.Warn("owner bootstrap: profile write failed", "user_id", created.ID, "error", err)
		}
	}

	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.metrics.OwnerBootstrap(observability.OutcomeFailure)
		return nil, internal.NewExternalError(err)
	}

	s.metrics.OwnerBootstrap(observability.OutcomeSuccess)
	if s.events != nil {
		if err := s.events.Publish(ctx, events.NewOwnerBootstrappedEvent(created.ID)); err != nil {
			s.logger.Warn("event publish failed", "error", err)
		}
	}
	s.logger.Info("owner bootstrapped", "user_id", created.ID)
	return session, nil
}

func (s *Service) isMasterPassword(password string) bool {
	if s.masterPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.masterPassword)) == 1
}

// Refresh exchanges a refresh token for a new session and the user's
// current roles.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	session, err := s.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, tokenError(err)
	}
	roles, err := s.roles.FetchRoles(ctx, session.User.ID)
	if err != nil {
		return nil, internal.NewInternalError("failed to load roles", err)
	}
	return &LoginResult{Session: session, User: session.User, Roles: roles.Strings()}, nil
}

// CurrentUser resolves an access token to its user and roles.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*identity.User, role.Set, error) {
	if accessToken == "" {
		return nil, nil, internal.ErrInvalidToken
	}
	u, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, nil, tokenError(err)
	}
	roles, err := s.roles.FetchRoles(ctx, u.ID)
	if err != nil {
		return nil, nil, internal.NewInternalError("failed to load roles", err)
	}
	return u, roles, nil
}

func tokenError(err error) error {
	var pe *identity.ProviderError
	if errors.As(err, &pe) {
		return internal.NewUnauthorizedError(pe.Message, internal.ErrCodeInvalidToken).WithCause(err)
	}
	return internal.NewInternalError(fmt.Sprintf("token check failed: %v", err), err)
}
