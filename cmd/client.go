package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/frahmantamala/courier-backoffice/internal/authclient"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/session"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	clientBaseURL      string
	clientAccessToken  string
	clientRefreshToken string
	clientFullName     string
	clientPhone        string
	clientLoginCode    string
	clientRole         string
	clientUserID       string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running back-office service",
}

var clientLoginCmd = &cobra.Command{
	Use:   "login <login-code>",
	Short: "Sign in with a login code and print the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		result, err := api.Login(ctx, args[0])
		if err != nil {
			return err
		}

		roles := make([]role.Role, 0, len(result.Roles))
		for _, name := range result.Roles {
			if r, err := role.Parse(name); err == nil {
				roles = append(roles, r)
			}
		}
		state := session.NewContext(session.NewClient(api, logger.LoggerWrapper()), api, logger.LoggerWrapper())
		if err := state.Start(ctx); err != nil {
			return err
		}
		defer state.Stop()
		if err := state.Login(ctx, result.Session, role.NewSet(roles...)); err != nil {
			return err
		}
		return printSnapshot(state.Snapshot())
	},
}

var clientWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Restore a session from tokens and print roles and visible sections",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		client := session.NewClient(api, logger.LoggerWrapper())
		state := session.NewContext(client, api, logger.LoggerWrapper())
		if err := state.Start(ctx); err != nil {
			return err
		}
		defer state.Stop()

		if _, err := client.SetSession(ctx, identity.Tokens{AccessToken: clientAccessToken, RefreshToken: clientRefreshToken}); err != nil {
			return err
		}
		snap := state.Snapshot()
		if !snap.IsAuthenticated() {
			return session.ErrNoSession
		}
		perms, err := api.MyPermissions(ctx, snap.Session.AccessToken)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"state":            snap.State.String(),
			"user":             snap.User,
			"roles":            snap.Roles.Strings(),
			"visible_sections": perms.Visible,
		})
	},
}

var clientCreateUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a staff account (owner or admin token required)",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		dto := user.CreateUserDTO{FullName: clientFullName, LoginCode: clientLoginCode, Role: clientRole}
		if clientPhone != "" {
			dto.Phone = &clientPhone
		}
		id, err := api.CreateUser(commandContext(cmd), clientAccessToken, dto)
		if err != nil {
			return err
		}
		return printJSON(user.CreateUserResponse{Success: true, UserID: id})
	},
}

var clientRotateCmd = &cobra.Command{
	Use:   "rotate-code",
	Short: "Replace the login code of a staff account",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		dto := user.UpdatePasswordDTO{UserID: clientUserID, NewPassword: clientLoginCode}
		if err := api.UpdatePassword(commandContext(cmd), clientAccessToken, dto); err != nil {
			return err
		}
		return printJSON(user.SuccessResponse{Success: true})
	},
}

var clientDeleteUserCmd = &cobra.Command{
	Use:   "delete-user",
	Short: "Delete a staff account",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := api.DeleteUser(commandContext(cmd), clientAccessToken, user.DeleteUserDTO{UserID: clientUserID}); err != nil {
			return err
		}
		return printJSON(user.SuccessResponse{Success: true})
	},
}

func newAPIClient() (*authclient.Client, error) {
	cfg, err := readConfig(configDir)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.Client.BaseURL
	if clientBaseURL != "" {
		baseURL = clientBaseURL
	}
	return authclient.New(baseURL, cfg.Client.Timeout, logger.LoggerWrapper()), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printSnapshot(snap session.Snapshot) error {
	out := map[string]interface{}{
		"state": snap.State.String(),
		"roles": snap.Roles.Strings(),
	}
	if snap.Session != nil {
		out["access_token"] = snap.Session.AccessToken
		out["refresh_token"] = snap.Session.RefreshToken
		out["user"] = snap.User
	}
	return printJSON(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("print: %w", err)
	}
	return nil
}

func init() {
	clientCmd.PersistentFlags().StringVar(&clientBaseURL, "base-url", "", "service base url, overrides client.base_url")

	for _, c := range []*cobra.Command{clientWhoamiCmd, clientCreateUserCmd, clientRotateCmd, clientDeleteUserCmd} {
		c.Flags().StringVar(&clientAccessToken, "access-token", "", "bearer token of the caller")
		_ = c.MarkFlagRequired("access-token")
	}
	clientWhoamiCmd.Flags().StringVar(&clientRefreshToken, "refresh-token", "", "refresh token of the session")
	_ = clientWhoamiCmd.MarkFlagRequired("refresh-token")

	clientCreateUserCmd.Flags().StringVar(&clientFullName, "full-name", "", "full name of the new user")
	clientCreateUserCmd.Flags().StringVar(&clientPhone, "phone", "", "phone number")
	clientCreateUserCmd.Flags().StringVar(&clientLoginCode, "login-code", "", "login code of the new user")
	clientCreateUserCmd.Flags().StringVar(&clientRole, "role", "courier", "admin or courier")

	clientRotateCmd.Flags().StringVar(&clientUserID, "user-id", "", "account to change")
	clientRotateCmd.Flags().StringVar(&clientLoginCode, "login-code", "", "new login code")

	clientDeleteUserCmd.Flags().StringVar(&clientUserID, "user-id", "", "account to delete")

	clientCmd.AddCommand(clientLoginCmd, clientWhoamiCmd, clientCreateUserCmd, clientRotateCmd, clientDeleteUserCmd)
}
