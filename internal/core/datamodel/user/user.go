package user

import "time"

// Profile mirrors an identity; it shares the identity's id.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:36"`
	FullName  string    `gorm:"column:full_name;not null"`
	Phone     *string   `gorm:"column:phone"`
	IsActive  bool      `gorm:"column:is_active;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Profile) TableName() string {
	return "profiles"
}
