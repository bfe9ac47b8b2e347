package postgres

import (
	"context"
	"fmt"

	roleDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/role"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) FetchRoles(ctx context.Context, userID string) (role.Set, error) {
	var rows []roleDatamodel.UserRole
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch roles: %w", err)
	}

	roles := make([]role.Role, 0, len(rows))
	for _, row := range rows {
		parsed, err := role.Parse(row.Role)
		if err != nil {
			// rows written outside the service may hold retired role names
			continue
		}
		roles = append(roles, parsed)
	}
	return role.NewSet(roles...), nil
}

func (r *RoleRepository) Assign(ctx context.Context, userID string, rl role.Role) error {
	row := roleDatamodel.UserRole{UserID: userID, Role: string(rl)}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("assign role %s: %w", rl, err)
	}
	return nil
}

func (r *RoleRepository) DeleteAll(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&roleDatamodel.UserRole{}).Error
	if err != nil {
		return fmt.Errorf("delete roles: %w", err)
	}
	return nil
}
