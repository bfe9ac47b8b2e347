package auth

import (
	"encoding/json"

	"github.com/frahmantamala/courier-backoffice/internal"
)

// Request is the envelope of POST /auth. UserData is decoded according to
// Action once the action is known.
type Request struct {
	Action   string          `json:"action,omitempty"`
	Password string          `json:"password,omitempty"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

// DecodeUserData unmarshals UserData into dst. Missing userData leaves dst
// zero so field validation reports what is absent.
func (r Request) DecodeUserData(dst interface{}) error {
	if len(r.UserData) == 0 || string(r.UserData) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.UserData, dst); err != nil {
		return internal.NewValidationError("invalid userData", internal.ErrCodeValidationFailed).WithCause(err)
	}
	return nil
}

type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

func (dto RefreshTokenDTO) Validate() error {
	if dto.RefreshToken == "" {
		return internal.NewValidationFieldError("refresh_token", "refresh_token is required", internal.ErrCodeValidationFailed)
	}
	return nil
}
