package postgres

import (
	"context"
	"errors"
	"fmt"

	userDatamodel "github.com/frahmantamala/courier-backoffice/internal/core/datamodel/user"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert writes name and phone, creating the row when the identity has no
// profile yet.
func (r *ProfileRepository) Upsert(ctx context.Context, p *user.Profile) error {
	row := p.ToDataModel()
	row.IsActive = true
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "phone", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*user.Profile, error) {
	var row userDatamodel.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, user.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return user.FromDataModel(&row), nil
}

func (r *ProfileRepository) List(ctx context.Context) ([]*user.Profile, error) {
	var rows []userDatamodel.Profile
	if err := r.db.WithContext(ctx).Order("full_name ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]*user.Profile, 0, len(rows))
	for i := range rows {
		out = append(out, user.FromDataModel(&rows[i]))
	}
	return out, nil
}

func (r *ProfileRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&userDatamodel.Profile{})
	if res.Error != nil {
		return fmt.Errorf("delete profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return user.ErrProfileNotFound
	}
	return nil
}
