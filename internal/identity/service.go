package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	identityDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/identity"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned by repositories when no identity matches.
var ErrNotFound = errors.New("identity not found")

type Repository interface {
	Create(ctx context.Context, identity *identityDatamodel.Identity) error
	GetByID(ctx context.Context, id string) (*identityDatamodel.Identity, error)
	GetByEmail(ctx context.Context, email string) (*identityDatamodel.Identity, error)
	UpdateCredentials(ctx context.Context, id string, email, passwordHash *string, changedAt time.Time) error
	TouchSignIn(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo       Repository
	tokens     *TokenIssuer
	bcryptCost int
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(repo Repository, tokens *TokenIssuer, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	row, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if row.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	now := s.now()
	if err := s.repo.TouchSignIn(ctx, row.ID, now); err != nil {
		s.logger.Warn("failed to record sign in", "user_id", row.ID, "error", err)
	} else {
		row.LastSignInAt = &now
	}

	return s.tokens.NewSession(toUser(row), credentialVersion(row))
}

func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	email := normalizeEmail(params.Email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(params.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	now := s.now().UTC()
	row := &identityDatamodel.Identity{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      string(hash),
		UserMetadata:      string(metadata),
		PasswordChangedAt: now,
	}
	if params.EmailConfirm {
		row.EmailConfirmedAt = &now
	}

	if err := s.repo.Create(ctx, row); err != nil {
		return nil, err
	}

	s.logger.Info("identity created", "user_id", row.ID)
	return toUser(row), nil
}

// UpdateUserByID applies the email and password change as a single write so
// the previous credential pair stops working at the same moment.
func (s *Service) UpdateUserByID(ctx context.Context, id string, params UpdateUserParams) (*User, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}

	var email, hash *string
	if params.Email != nil {
		e := normalizeEmail(*params.Email)
		if !validEmail(e) {
			return nil, ErrInvalidEmail
		}
		if existing, err := s.repo.GetByEmail(ctx, e); err == nil && existing.ID != id {
			return nil, ErrEmailExists
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("check existing identity: %w", err)
		}
		email = &e
	}
	if params.Password != nil {
		if len(*params.Password) < MinPasswordLength {
			return nil, ErrWeakPassword
		}
		h, err := bcrypt.GenerateFromPassword([]byte(*params.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}
	if email == nil && hash == nil {
		return toUser(row), nil
	}

	changedAt := row.PasswordChangedAt
	if hash != nil {
		changedAt = s.now().UTC()
		if changedAt.Unix() <= row.PasswordChangedAt.Unix() {
			changedAt = row.PasswordChangedAt.Add(time.Second)
		}
	}
	if err := s.repo.UpdateCredentials(ctx, id, email, hash, changedAt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload identity: %w", err)
	}
	s.logger.Info("identity credentials updated", "user_id", id, "email_changed", email != nil, "password_changed", hash != nil)
	return toUser(updated), nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Info("identity deleted", "user_id", id)
	return nil
}

// GetUser resolves the identity behind an access token.
func (s *Service) GetUser(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	row, err := s.current(ctx, claims)
	if err != nil {
		return nil, err
	}
	return toUser(row), nil
}

func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	row, err := s.current(ctx, claims)
	if err != nil {
		return nil, err
	}
	return s.tokens.NewSession(toUser(row), credentialVersion(row))
}

func (s *Service) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUser(row), nil
}

func (s *Service) current(ctx context.Context, claims *Claims) (*identityDatamodel.Identity, error) {
	row, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if claims.CredentialVersion != credentialVersion(row) {
		return nil, ErrSessionRevoked
	}
	return row, nil
}

func credentialVersion(row *identityDatamodel.Identity) int64 {
	return row.PasswordChangedAt.Unix()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && strings.Count(email, "@") == 1
}

func toUser(row *identityDatamodel.Identity) *User {
	u := &User{
		ID:               row.ID,
		Email:            row.Email,
		EmailConfirmedAt: row.EmailConfirmedAt,
		LastSignInAt:     row.LastSignInAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.UserMetadata != "" {
		_ = json.Unmarshal([]byte(row.UserMetadata), &u.Metadata)
	}
	return u
}
