package user

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/transport"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	ListUsers(ctx context.Context) ([]Summary, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

type PermissionAPI interface {
	ForUser(ctx context.Context, userID string, roles role.Set) (*permission.Resolver, error)
	Set(ctx context.Context, userID string, overrides permission.Overrides) ([]permission.Row, error)
}

type Handler struct {
	*transport.BaseHandler
	Service     ServiceAPI
	Permissions PermissionAPI
}

func NewHandler(svc ServiceAPI, perms PermissionAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		Permissions: perms,
	}
}

type SectionView struct {
	Key        permission.Section `json:"key"`
	Path       string             `json:"path"`
	Title      string             `json:"title"`
	Permission permission.Level   `json:"permission"`
}

type MyPermissionsResponse struct {
	UserID      string                                  `json:"user_id"`
	Roles       []string                                `json:"roles"`
	IsOwner     bool                                    `json:"is_owner"`
	IsAdmin     bool                                    `json:"is_admin"`
	IsCourier   bool                                    `json:"is_courier"`
	Permissions map[permission.Section]permission.Level `json:"permissions"`
	Visible     []SectionView                           `json:"visible_sections"`
}

// GetMyPermissions handles GET /me/permissions
func (h *Handler) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		h.HandleServiceError(w, internal.ErrInvalidToken)
		return
	}

	resolver, err := h.Permissions.ForUser(r.Context(), caller.ID(), caller.Roles)
	if err != nil {
		h.Logger.Error("GetMyPermissions: resolve failed", "user_id", caller.ID(), "error", err)
		h.HandleServiceError(w, err)
		return
	}

	effective := resolver.Effective()
	visible := make([]SectionView, 0)
	for _, info := range permission.NewGuard(resolver).Visible() {
		visible = append(visible, SectionView{Key: info.Key, Path: info.Path, Title: info.Title, Permission: effective[info.Key]})
	}

	h.WriteJSON(w, http.StatusOK, MyPermissionsResponse{
		UserID:      caller.ID(),
		Roles:       caller.Roles.Strings(),
		IsOwner:     caller.Roles.IsOwner(),
		IsAdmin:     caller.Roles.IsAdmin(),
		IsCourier:   caller.Roles.IsCourier(),
		Permissions: effective,
		Visible:     visible,
	})
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.Logger.Error("ListUsers: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
	})
}

// SetPermissions handles PUT /users/{id}/permissions
func (h *Handler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	var dto SetPermissionsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if _, err := h.Service.GetProfile(r.Context(), userID); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	rows, err := h.Permissions.Set(r.Context(), userID, permission.Overrides(dto.Permissions))
	if err != nil {
		h.Logger.Error("SetPermissions: service error", "user_id", userID, "error", err)
		h.HandleServiceError(w, err)
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Section < rows[j].Section })

	h.Logger.Info("SetPermissions: overrides replaced", "actor_id", caller.ID(), "user_id", userID, "count", len(rows))
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"permissions": rows,
	})
}
