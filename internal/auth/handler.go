package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/transport"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
)

type ServiceAPI interface {
	Login(ctx context.Context, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	CurrentUser(ctx context.Context, accessToken string) (*identity.User, role.Set, error)
}

// AdminAPI is the administrative user lifecycle. Each call verifies the
// caller's token itself.
type AdminAPI interface {
	CreateUser(ctx context.Context, accessToken string, dto user.CreateUserDTO) (string, error)
	UpdatePassword(ctx context.Context, accessToken string, dto user.UpdatePasswordDTO) error
	DeleteUser(ctx context.Context, accessToken string, dto user.DeleteUserDTO) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Admin   AdminAPI
	Metrics *observability.Metrics
}

func NewHandler(svc ServiceAPI, admin AdminAPI, metrics *observability.Metrics) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		Admin:       admin,
		Metrics:     metrics,
	}
}

// ServeAuth handles POST /auth, dispatching on the action field.
func (h *Handler) ServeAuth(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	switch req.Action {
	case "", ActionLogin:
		h.login(w, r, req)
	case ActionCreateUser:
		h.createUser(w, r, req)
	case ActionUpdatePassword:
		h.updatePassword(w, r, req)
	case ActionDeleteUser:
		h.deleteUser(w, r, req)
	default:
		h.Logger.Warn("ServeAuth: unknown action", "action", req.Action)
		h.HandleServiceError(w, internal.ErrUnknownAction)
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, req Request) {
	result, err := h.Service.Login(r.Context(), req.Password)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, req Request) {
	var dto user.CreateUserDTO
	if err := req.DecodeUserData(&dto); err != nil {
		h.recordAdmin(ActionCreateUser, err)
		h.HandleServiceError(w, err)
		return
	}

	userID, err := h.Admin.CreateUser(r.Context(), h.ExtractTokenFromHeader(r), dto)
	h.recordAdmin(ActionCreateUser, err)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, user.CreateUserResponse{Success: true, UserID: userID})
}

func (h *Handler) updatePassword(w http.ResponseWriter, r *http.Request, req Request) {
	var dto user.UpdatePasswordDTO
	if err := req.DecodeUserData(&dto); err != nil {
		h.recordAdmin(ActionUpdatePassword, err)
		h.HandleServiceError(w, err)
		return
	}

	err := h.Admin.UpdatePassword(r.Context(), h.ExtractTokenFromHeader(r), dto)
	h.recordAdmin(ActionUpdatePassword, err)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, user.SuccessResponse{Success: true})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request, req Request) {
	var dto user.DeleteUserDTO
	if err := req.DecodeUserData(&dto); err != nil {
		h.recordAdmin(ActionDeleteUser, err)
		h.HandleServiceError(w, err)
		return
	}

	err := h.Admin.DeleteUser(r.Context(), h.ExtractTokenFromHeader(r), dto)
	h.recordAdmin(ActionDeleteUser, err)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, user.SuccessResponse{Success: true})
}

func (h *Handler) recordAdmin(action string, err error) {
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeFailure
		if appErr, ok := internal.IsAppError(err); ok {
			switch {
			case errors.Is(appErr, internal.ErrNotAuthorized):
				outcome = observability.OutcomeDenied
			case appErr.StatusCode == http.StatusBadRequest:
				outcome = observability.OutcomeRejected
			}
		}
	}
	h.Metrics.AdminAction(action, outcome)
}

// RefreshToken handles POST /auth/refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.Refresh(r.Context(), dto.RefreshToken)
	if err != nil {
		h.Logger.Warn("token refresh failed", "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// GetUser handles GET /auth/user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := user.CallerFromContext(r.Context())
	if !ok {
		h.HandleServiceError(w, internal.ErrInvalidToken)
		return
	}
	h.WriteJSON(w, http.StatusOK, CurrentUser{User: caller.User, Roles: caller.Roles.Strings()})
}
