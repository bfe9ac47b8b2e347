package user

import (
	"slices"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/core/common/validation"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/role"
)

const (
	maxFullNameLength = 120
	maxPhoneLength    = 32
)

// CreateUserDTO is the userData of a create-user action.
type CreateUserDTO struct {
	FullName  string  `json:"full_name"`
	Phone     *string `json:"phone,omitempty"`
	LoginCode string  `json:"login_code"`
	Role      string  `json:"role"`
}

// Validate checks the role first so that "owner" is refused with the same
// message no matter what else is wrong with the request.
func (dto CreateUserDTO) Validate() error {
	r, err := role.Parse(dto.Role)
	if err != nil || !r.Assignable() {
		return internal.ErrInvalidRole
	}

	v := validation.NewValidator()
	v.Field("full_name", dto.FullName).Required().MaxLength(maxFullNameLength)
	v.Field("login_code", dto.LoginCode).Required().MinLength(identity.MinPasswordLength)
	if dto.Phone != nil {
		v.Field("phone", *dto.Phone).MaxLength(maxPhoneLength)
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// UpdatePasswordDTO is the userData of an update-password action.
type UpdatePasswordDTO struct {
	UserID      string `json:"user_id"`
	NewPassword string `json:"new_password"`
}

func (dto UpdatePasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("user_id", dto.UserID).Required()
	v.Field("new_password", dto.NewPassword).Required().MinLength(identity.MinPasswordLength)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// DeleteUserDTO is the userData of a delete-user action.
type DeleteUserDTO struct {
	UserID string `json:"user_id"`
}

func (dto DeleteUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("user_id", dto.UserID).Required()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// SetPermissionsDTO replaces a user's section overrides.
type SetPermissionsDTO struct {
	Permissions map[string]string `json:"permissions"`
}

func (dto SetPermissionsDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("permissions", dto.Permissions).Required()

	sections := make([]string, 0, len(permission.Sections()))
	for _, info := range permission.Sections() {
		sections = append(sections, string(info.Key))
	}
	levels := []string{string(permission.LevelView), string(permission.LevelEdit), string(permission.LevelHidden)}
	keys := make([]string, 0, len(dto.Permissions))
	for key := range dto.Permissions {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		v.Field("section", key).OneOf(internal.ErrCodeInvalidSection, sections...)
		v.Field("permissions."+key, dto.Permissions[key]).OneOf(internal.ErrCodeInvalidLevel, levels...)
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CreateUserResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
