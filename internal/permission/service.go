package permission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/role"
)

type Store interface {
	ListForUser(ctx context.Context, userID string) ([]Row, error)
	Replace(ctx context.Context, userID string, rows []Row) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ForUser loads the overrides of userID and builds its resolver. Owners
// never need their rows, so the lookup is skipped for them.
func (s *Service) ForUser(ctx context.Context, userID string, roles role.Set) (*Resolver, error) {
	if roles.IsOwner() {
		return NewResolver(roles, nil), nil
	}
	rows, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list section permissions: %w", err)
	}
	return NewResolver(roles, rows), nil
}

// Overrides is the wire shape of a replacement: section key -> level.
type Overrides map[string]string

// Set replaces every override of userID. Unknown sections or levels reject
// the whole request.
func (s *Service) Set(ctx context.Context, userID string, overrides Overrides) ([]Row, error) {
	rows := make([]Row, 0, len(overrides))
	for key, value := range overrides {
		section, err := ParseSection(key)
		if err != nil {
			return nil, internal.NewValidationFieldError("section", fmt.Sprintf("unknown section %q", key), internal.ErrCodeInvalidSection)
		}
		level, err := ParseLevel(value)
		if err != nil {
			return nil, internal.NewValidationFieldError("permission", fmt.Sprintf("unknown permission %q for section %q", value, key), internal.ErrCodeInvalidLevel)
		}
		rows = append(rows, Row{UserID: userID, Section: section, Level: level})
	}

	if err := s.store.Replace(ctx, userID, rows); err != nil {
		return nil, fmt.Errorf("replace section permissions: %w", err)
	}
	s.logger.Info("section permissions replaced", "user_id", userID, "count", len(rows))
	return rows, nil
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.DeleteAllForUser(ctx, userID)
}
