package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/courier-backoffice/internal/credential"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/spf13/cobra"
)

var (
	seedAdminCode   string
	seedCourierCode string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo staff accounts",
	Long:  `Create a demo admin and a demo courier through the identity provider and role store. Existing accounts are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		defer deps.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		accounts := []struct {
			code     string
			fullName string
			role     role.Role
		}{
			{seedAdminCode, "Demo Admin", role.Admin},
			{seedCourierCode, "Demo Courier", role.Courier},
		}
		for _, a := range accounts {
			if err := seedAccount(ctx, deps, a.code, a.fullName, a.role); err != nil {
				return err
			}
		}
		return nil
	},
}

func seedAccount(ctx context.Context, deps *Dependencies, code, fullName string, r role.Role) error {
	email := credential.CodeToEmail(code)
	if _, err := deps.Provider.FindUserByEmail(ctx, email); err == nil {
		fmt.Printf("%s account %q already exists\n", r, code)
		return nil
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return fmt.Errorf("look up %s: %w", code, err)
	}

	u, err := deps.Provider.CreateUser(ctx, identity.CreateUserParams{
		Email:        email,
		Password:     code,
		EmailConfirm: true,
		Metadata:     identity.UserMetadata{FullName: fullName},
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", code, err)
	}
	if err := deps.Users.UpsertProfile(ctx, &user.Profile{ID: u.ID, FullName: fullName, IsActive: true}); err != nil {
		return fmt.Errorf("profile for %s: %w", code, err)
	}
	if err := deps.Roles.Assign(ctx, u.ID, r); err != nil {
		return fmt.Errorf("assign %s to %s: %w", r, code, err)
	}
	fmt.Printf("Seeded %s account %q (%s)\n", r, code, u.ID)
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedAdminCode, "admin-code", "admin-demo", "login code of the demo admin")
	seedCmd.Flags().StringVar(&seedCourierCode, "courier-code", "courier-demo", "login code of the demo courier")
}
