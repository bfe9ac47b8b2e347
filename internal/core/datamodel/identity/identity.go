package identity

import "time"

type Identity struct {
	ID               string     `gorm:"primaryKey;size:36"`
	Email            string     `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash     string     `gorm:"column:password_hash;not null"`
	EmailConfirmedAt *time.Time `gorm:"column:email_confirmed_at"`
	UserMetadata     string     `gorm:"column:user_metadata;not null;default:'{}'"`
	LastSignInAt     *time.Time `gorm:"column:last_sign_in_at"`
	// PasswordChangedAt versions the credential; tokens minted earlier are rejected.
	PasswordChangedAt time.Time `gorm:"column:password_changed_at;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "identities"
}
