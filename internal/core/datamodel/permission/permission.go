package permission

import "time"

type SectionPermission struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_section_permissions_user_section"`
	Section    string    `gorm:"column:section;size:64;not null;uniqueIndex:idx_section_permissions_user_section"`
	Permission string    `gorm:"column:permission;size:16;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SectionPermission) TableName() string {
	return "section_permissions"
}
