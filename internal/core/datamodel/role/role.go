package role

import "time"

type UserRole struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_user_roles_user_role"`
	Role      string    `gorm:"column:role;size:16;not null;uniqueIndex:idx_user_roles_user_role"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
