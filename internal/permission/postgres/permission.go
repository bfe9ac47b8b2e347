package postgres

import (
	"context"
	"fmt"

	permissionDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/permission"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
	"gorm.io/gorm"
)

type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) ListForUser(ctx context.Context, userID string) ([]permission.Row, error) {
	var rows []permissionDatamodel.SectionPermission
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("section ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	// A missing row means edit, so a row whose level cannot be read is
	// treated as hidden rather than dropped.
	out := make([]permission.Row, 0, len(rows))
	for _, row := range rows {
		section, err := permission.ParseSection(row.Section)
		if err != nil {
			logger.From(ctx).Warn("ignoring section permission outside the catalogue",
				"user_id", row.UserID, "section", row.Section)
			continue
		}
		level, err := permission.ParseLevel(row.Permission)
		if err != nil {
			logger.From(ctx).Warn("unreadable section permission, treating as hidden",
				"user_id", row.UserID, "section", row.Section, "permission", row.Permission)
			level = permission.LevelHidden
		}
		out = append(out, permission.Row{UserID: row.UserID, Section: section, Level: level})
	}
	return out, nil
}

func (r *PermissionRepository) Replace(ctx context.Context, userID string, rows []permission.Row) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&permissionDatamodel.SectionPermission{}).Error; err != nil {
			return fmt.Errorf("clear overrides: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		models := make([]permissionDatamodel.SectionPermission, len(rows))
		for i, row := range rows {
			models[i] = permissionDatamodel.SectionPermission{
				UserID:     userID,
				Section:    string(row.Section),
				Permission: string(row.Level),
			}
		}
		return tx.Create(&models).Error
	})
}

func (r *PermissionRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&permissionDatamodel.SectionPermission{}).Error
}
