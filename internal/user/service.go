package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/credential"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/role"
)

var ErrProfileNotFound = errors.New("profile not found")

type Repository interface {
	Upsert(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Delete(ctx context.Context, id string) error
}

// PermissionClearer drops every section override of a user.
type PermissionClearer interface {
	Clear(ctx context.Context, userID string) error
}

type Service struct {
	provider    identity.Provider
	roles       role.Store
	profiles    Repository
	permissions PermissionClearer
	events      events.Publisher
	logger      *slog.Logger
}

func NewService(provider identity.Provider, roles role.Store, profiles Repository, permissions PermissionClearer, bus events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:    provider,
		roles:       roles,
		profiles:    profiles,
		permissions: permissions,
		events:      bus,
		logger:      logger,
	}
}

// VerifyCaller resolves the bearer token to an owner or admin. A nil caller
// with a nil error means the request is not authorized; the reason is
// not distinguished.
func (s *Service) VerifyCaller(ctx context.Context, accessToken string) (*Caller, error) {
	if accessToken == "" {
		return nil, nil
	}

	u, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		var pe *identity.ProviderError
		if errors.As(err, &pe) {
			return nil, nil
		}
		return nil, fmt.Errorf("verify caller: %w", err)
	}

	roles, err := s.roles.FetchRoles(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("verify caller roles: %w", err)
	}
	if !roles.IsOwnerOrAdmin() {
		return nil, nil
	}
	return &Caller{User: u, Roles: roles}, nil
}

func (s *Service) authorize(ctx context.Context, accessToken string) (*Caller, error) {
	caller, err := s.VerifyCaller(ctx, accessToken)
	if err != nil {
		return nil, internal.NewInternalError("failed to verify caller", err)
	}
	if caller == nil {
		return nil, internal.ErrNotAuthorized
	}
	return caller, nil
}

// CreateUser provisions an admin or courier whose password is the login code.
// Writes run identity, profile, role in that order and are not rolled back;
// a failure after the identity exists leaves it for the reconciler.
func (s *Service) CreateUser(ctx context.Context, accessToken string, dto CreateUserDTO) (string, error) {
	caller, err := s.authorize(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if err := dto.Validate(); err != nil {
		return "", err
	}
	r, _ := role.Parse(dto.Role)

	email := credential.CodeToEmail(dto.LoginCode)
	if _, err := s.provider.FindUserByEmail(ctx, email); err == nil {
		return "", internal.ErrLoginCodeTaken
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return "", internal.NewExternalError(err)
	}

	meta := identity.UserMetadata{FullName: dto.FullName}
	if dto.Phone != nil {
		meta.Phone = *dto.Phone
	}
	created, err := s.provider.CreateUser(ctx, identity.CreateUserParams{
		Email:        email,
		Password:     dto.LoginCode,
		EmailConfirm: true,
		Metadata:     meta,
	})
	if err != nil {
		return "", internal.NewExternalError(err)
	}

	profile := &Profile{ID: created.ID, FullName: dto.FullName, Phone: dto.Phone, IsActive: true}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		s.logger.Error("profile write failed after identity creation", "user_id", created.ID, "error", err)
		return "", internal.NewExternalError(err)
	}

	if err := s.roles.Assign(ctx, created.ID, r); err != nil {
		s.logger.Error("role assignment failed after identity creation", "user_id", created.ID, "role", r, "error", err)
		return "", internal.NewExternalError(err)
	}

	s.publish(ctx, events.NewUserCreatedEvent(caller.ID(), created.ID, string(r)))
	s.logger.Info("user created", "actor_id", caller.ID(), "user_id", created.ID, "role", r)
	return created.ID, nil
}

// UpdatePassword rotates a login code. Password and derived email change in
// a single provider call so the code and the email never disagree.
func (s *Service) UpdatePassword(ctx context.Context, accessToken string, dto UpdatePasswordDTO) error {
	caller, err := s.authorize(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := dto.Validate(); err != nil {
		return err
	}

	email := credential.CodeToEmail(dto.NewPassword)
	if existing, err := s.provider.FindUserByEmail(ctx, email); err == nil {
		if existing.ID != dto.UserID {
			return internal.ErrLoginCodeTaken
		}
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return internal.NewExternalError(err)
	}
	password := dto.NewPassword
	if _, err := s.provider.UpdateUserByID(ctx, dto.UserID, identity.UpdateUserParams{
		Email:    &email,
		Password: &password,
	}); err != nil {
		return internal.NewExternalError(err)
	}

	s.publish(ctx, events.NewUserPasswordRotatedEvent(caller.ID(), dto.UserID))
	s.logger.Info("login code rotated", "actor_id", caller.ID(), "user_id", dto.UserID)
	return nil
}

// DeleteUser removes role rows, section overrides, the identity and finally
// the profile. There is no rollback; a failure stops at that step.
func (s *Service) DeleteUser(ctx context.Context, accessToken string, dto DeleteUserDTO) error {
	caller, err := s.authorize(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := dto.Validate(); err != nil {
		return err
	}

	if err := s.roles.DeleteAll(ctx, dto.UserID); err != nil {
		return internal.NewExternalError(err)
	}
	if s.permissions != nil {
		if err := s.permissions.Clear(ctx, dto.UserID); err != nil {
			return internal.NewExternalError(err)
		}
	}
	if err := s.provider.DeleteUser(ctx, dto.UserID); err != nil {
		return internal.NewExternalError(err)
	}
	if err := s.profiles.Delete(ctx, dto.UserID); err != nil && !errors.Is(err, ErrProfileNotFound) {
		return internal.NewExternalError(err)
	}

	s.publish(ctx, events.NewUserDeletedEvent(caller.ID(), dto.UserID))
	s.logger.Info("user deleted", "actor_id", caller.ID(), "user_id", dto.UserID)
	return nil
}

// ListUsers returns every profile with its roles, ordered by name.
func (s *Service) ListUsers(ctx context.Context) ([]Summary, error) {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	out := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		roles, err := s.roles.FetchRoles(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list roles for %s: %w", p.ID, err)
		}
		out = append(out, Summary{Profile: *p, Roles: roles.Strings()})
	}
	return out, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	p, err := s.profiles.GetByID(ctx, id)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, internal.ErrUserNotFound
	}
	return p, err
}

// UpsertProfile writes a profile without an authorization check; it is
// used by the login bootstrap and the seeder.
func (s *Service) UpsertProfile(ctx context.Context, p *Profile) error {
	return s.profiles.Upsert(ctx, p)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed", "event_type", e.EventType(), "error", err)
	}
}
