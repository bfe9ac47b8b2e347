package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	identityDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/identity"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"gorm.io/gorm"
)

type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Create(ctx context.Context, row *identityDatamodel.Identity) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*identityDatamodel.Identity, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*identityDatamodel.Identity, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *IdentityRepository) first(ctx context.Context, query string, arg any) (*identityDatamodel.Identity, error) {
	var row identityDatamodel.Identity
	err := r.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *IdentityRepository) UpdateCredentials(ctx context.Context, id string, email, passwordHash *string, changedAt time.Time) error {
	updates := map[string]interface{}{
		"password_changed_at": changedAt,
		"updated_at":          time.Now().UTC(),
	}
	if email != nil {
		updates["email"] = *email
	}
	if passwordHash != nil {
		updates["password_hash"] = *passwordHash
	}

	result := r.db.WithContext(ctx).
		Model(&identityDatamodel.Identity{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("update identity credentials: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&identityDatamodel.Identity{}).
		Where("id = ?", id).
		UpdateColumn("last_sign_in_at", at).Error
}

func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&identityDatamodel.Identity{})
	if result.Error != nil {
		return fmt.Errorf("delete identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return identity.ErrNotFound
	}
	return nil
}
