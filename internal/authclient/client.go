// Package authclient talks to the back-office auth endpoint over HTTP. It is
// the backend a client-side session.Context runs on.
package authclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal/auth"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth endpoint returned %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

type actionRequest struct {
	Action   string      `json:"action,omitempty"`
	Password string      `json:"password,omitempty"`
	UserData interface{} `json:"userData,omitempty"`
}

type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New builds a client for baseURL, e.g. http://localhost:8080/api/v1.
// Failed requests are not retried.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-Client-Info", "courier-backoffice-cli")
	return &Client{http: httpClient, logger: logger}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, result interface{}) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&errorBody{})
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
			msg = e.Error
		}
		c.logger.Debug("auth endpoint error", "path", path, "status", resp.StatusCode())
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

func (c *Client) Login(ctx context.Context, password string) (*auth.LoginResult, error) {
	var result auth.LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth", "", actionRequest{Password: password}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateUser(ctx context.Context, token string, dto user.CreateUserDTO) (string, error) {
	var result user.CreateUserResponse
	body := actionRequest{Action: auth.ActionCreateUser, UserData: dto}
	if err := c.do(ctx, http.MethodPost, "/auth", token, body, &result); err != nil {
		return "", err
	}
	return result.UserID, nil
}

func (c *Client) UpdatePassword(ctx context.Context, token string, dto user.UpdatePasswordDTO) error {
	body := actionRequest{Action: auth.ActionUpdatePassword, UserData: dto}
	return c.do(ctx, http.MethodPost, "/auth", token, body, &user.SuccessResponse{})
}

func (c *Client) DeleteUser(ctx context.Context, token string, dto user.DeleteUserDTO) error {
	body := actionRequest{Action: auth.ActionDeleteUser, UserData: dto}
	return c.do(ctx, http.MethodPost, "/auth", token, body, &user.SuccessResponse{})
}

func (c *Client) CurrentUser(ctx context.Context, token string) (*auth.CurrentUser, error) {
	var result auth.CurrentUser
	if err := c.do(ctx, http.MethodGet, "/auth/user", token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetUser(ctx context.Context, token string) (*identity.User, error) {
	current, err := c.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return current.User, nil
}

// FetchRoles skips role names this build does not know.
func (c *Client) FetchRoles(ctx context.Context, token string) (role.Set, error) {
	current, err := c.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	roles := make([]role.Role, 0, len(current.Roles))
	for _, name := range current.Roles {
		if r, err := role.Parse(name); err == nil {
			roles = append(roles, r)
		}
	}
	return role.NewSet(roles...), nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error) {
	var result auth.LoginResult
	body := auth.RefreshTokenDTO{RefreshToken: refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", body, &result); err != nil {
		return nil, err
	}
	return result.Session, nil
}

func (c *Client) MyPermissions(ctx context.Context, token string) (*user.MyPermissionsResponse, error) {
	var result user.MyPermissionsResponse
	if err := c.do(ctx, http.MethodGet, "/me/permissions", token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
