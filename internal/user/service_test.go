package user_test

import (
	"context"
	"net/http"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/credential"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("User Service", func() {
	var (
		env        *testEnv
		ctx        context.Context
		ownerToken string
	)

	BeforeEach(func() {
		env = newTestEnv()
		ctx = context.Background()
		_, ownerToken = env.signedIn(ctx, "owner-master-code", role.Owner)
	})

	countIdentities := func() int64 {
		var n int64
		Expect(env.db.Table("identities").Count(&n).Error).To(Succeed())
		return n
	}

	Describe("VerifyCaller", func() {
		It("returns nothing for a missing token", func() {
			caller, err := env.service.VerifyCaller(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).To(BeNil())
		})

		It("returns nothing for a garbage token", func() {
			caller, err := env.service.VerifyCaller(ctx, "not-a-jwt")
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).To(BeNil())
		})

		It("returns nothing for a courier", func() {
			_, token := env.signedIn(ctx, "courier-code-1", role.Courier)
			caller, err := env.service.VerifyCaller(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).To(BeNil())
		})

		It("resolves an owner", func() {
			caller, err := env.service.VerifyCaller(ctx, ownerToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).NotTo(BeNil())
			Expect(caller.Roles.IsOwner()).To(BeTrue())
		})

		It("re-checks roles on every call", func() {
			adminID, token := env.signedIn(ctx, "admin-code-1", role.Admin)
			caller, err := env.service.VerifyCaller(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).NotTo(BeNil())

			Expect(env.roles.DeleteAll(ctx, adminID)).To(Succeed())
			caller, err = env.service.VerifyCaller(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(caller).To(BeNil())
		})
	})

	Describe("CreateUser", func() {
		dto := func(code, r string) user.CreateUserDTO {
			phone := "+15550100"
			return user.CreateUserDTO{FullName: "Robin Rider", Phone: &phone, LoginCode: code, Role: r}
		}

		It("refuses callers without a token and writes nothing", func() {
			before := countIdentities()
			_, err := env.service.CreateUser(ctx, "", dto("courier-777", "courier"))
			Expect(err).To(MatchError(internal.ErrNotAuthorized))
			Expect(countIdentities()).To(Equal(before))
		})

		It("refuses couriers", func() {
			_, token := env.signedIn(ctx, "courier-code-2", role.Courier)
			_, err := env.service.CreateUser(ctx, token, dto("courier-778", "courier"))
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusForbidden))
			Expect(appErr.Message).To(Equal("Not authorized"))
		})

		It("never creates owners, even for an owner", func() {
			before := countIdentities()
			_, err := env.service.CreateUser(ctx, ownerToken, dto("another-owner", "owner"))
			Expect(err).To(MatchError(internal.ErrInvalidRole))
			Expect(countIdentities()).To(Equal(before))
		})

		It("provisions identity, profile and role", func() {
			id, err := env.service.CreateUser(ctx, ownerToken, dto("courier-12345", "courier"))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())

			found, err := env.provider.FindUserByEmail(ctx, credential.CodeToEmail("courier-12345"))
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(id))
			Expect(found.EmailConfirmedAt).NotTo(BeNil())

			roles, err := env.roles.FetchRoles(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles).To(Equal(role.NewSet(role.Courier)))

			profile, err := env.service.GetProfile(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.FullName).To(Equal("Robin Rider"))
			Expect(*profile.Phone).To(Equal("+15550100"))

			_, err = env.provider.SignInWithPassword(ctx, credential.CodeToEmail("courier-12345"), "courier-12345")
			Expect(err).NotTo(HaveOccurred())
		})

		It("lets an admin create another admin", func() {
			_, adminToken := env.signedIn(ctx, "admin-code-2", role.Admin)
			_, err := env.service.CreateUser(ctx, adminToken, dto("second-admin", "admin"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a login code that is already in use", func() {
			_, err := env.service.CreateUser(ctx, ownerToken, dto("dup-code-1", "courier"))
			Expect(err).NotTo(HaveOccurred())
			_, err = env.service.CreateUser(ctx, ownerToken, dto("dup-code-1", "admin"))
			Expect(err).To(MatchError(internal.ErrLoginCodeTaken))
		})

		It("rejects short login codes before reaching the provider", func() {
			_, err := env.service.CreateUser(ctx, ownerToken, dto("abc", "courier"))
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(appErr.GetDetailedMessage()).To(Equal("login_code must be at least 6 characters"))

			_, err = env.provider.FindUserByEmail(ctx, credential.CodeToEmail("abc"))
			Expect(err).To(MatchError(identity.ErrUserNotFound))
		})

		It("rejects a missing name", func() {
			d := dto("courier-999", "courier")
			d.FullName = ""
			_, err := env.service.CreateUser(ctx, ownerToken, d)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.GetDetailedMessage()).To(Equal("full_name is required"))
		})

		It("publishes user.created", func() {
			received := make(chan events.Event, 1)
			env.bus.Subscribe(events.UserCreated, func(_ context.Context, e events.Event) error {
				received <- e
				return nil
			})
			id, err := env.service.CreateUser(ctx, ownerToken, dto("courier-evt", "courier"))
			Expect(err).NotTo(HaveOccurred())

			var e events.Event
			Eventually(received).Should(Receive(&e))
			Expect(e.Payload()).To(HaveKeyWithValue("user_id", id))
			Expect(e.Payload()).NotTo(HaveKey("login_code"))
		})
	})

	Describe("UpdatePassword", func() {
		var targetID, targetToken string

		BeforeEach(func() {
			targetID, targetToken = env.signedIn(ctx, "old-code-1", role.Courier)
		})

		It("rotates code and email together", func() {
			err := env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "new-code-1"})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.provider.SignInWithPassword(ctx, credential.CodeToEmail("old-code-1"), "old-code-1")
			Expect(err).To(MatchError(identity.ErrInvalidCredentials))

			session, err := env.provider.SignInWithPassword(ctx, credential.CodeToEmail("new-code-1"), "new-code-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.User.ID).To(Equal(targetID))
			Expect(session.User.Email).To(Equal(credential.CodeToEmail("new-code-1")))
		})

		It("revokes sessions issued before the rotation", func() {
			Expect(env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "new-code-2"})).To(Succeed())
			_, err := env.provider.GetUser(ctx, targetToken)
			Expect(err).To(MatchError(identity.ErrSessionRevoked))
		})

		It("refuses couriers", func() {
			err := env.service.UpdatePassword(ctx, targetToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "self-service"})
			Expect(err).To(MatchError(internal.ErrNotAuthorized))
		})

		It("rejects a code held by someone else", func() {
			err := env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "owner-master-code"})
			Expect(err).To(MatchError(internal.ErrLoginCodeTaken))
		})

		It("accepts the code the user already has", func() {
			Expect(env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "new-code-3"})).To(Succeed())
			Expect(env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: targetID, NewPassword: "new-code-3"})).To(Succeed())
		})

		It("reports unknown users with the provider message", func() {
			err := env.service.UpdatePassword(ctx, ownerToken, user.UpdatePasswordDTO{UserID: "missing", NewPassword: "whatever-1"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Message).To(Equal(identity.ErrUserNotFound.Message))
		})
	})

	Describe("DeleteUser", func() {
		It("removes roles, overrides, identity and profile", func() {
			targetID, _ := env.signedIn(ctx, "doomed-code", role.Admin)
			_, err := env.permissions.Set(ctx, targetID, permission.Overrides{"orders": "view"})
			Expect(err).NotTo(HaveOccurred())

			Expect(env.service.DeleteUser(ctx, ownerToken, user.DeleteUserDTO{UserID: targetID})).To(Succeed())

			roles, err := env.roles.FetchRoles(ctx, targetID)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles.Empty()).To(BeTrue())

			resolver, err := env.permissions.ForUser(ctx, targetID, roles)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolver.Permission(permission.SectionOrders)).To(Equal(permission.LevelEdit))

			_, err = env.provider.FindUserByEmail(ctx, credential.CodeToEmail("doomed-code"))
			Expect(err).To(MatchError(identity.ErrUserNotFound))

			_, err = env.service.GetProfile(ctx, targetID)
			Expect(err).To(MatchError(internal.ErrUserNotFound))
		})

		It("drops role rows and overrides before a failing identity delete", func() {
			Expect(env.roles.Assign(ctx, "ghost-user", role.Admin)).To(Succeed())
			_, err := env.permissions.Set(ctx, "ghost-user", permission.Overrides{"finance": "hidden"})
			Expect(err).NotTo(HaveOccurred())

			err = env.service.DeleteUser(ctx, ownerToken, user.DeleteUserDTO{UserID: "ghost-user"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(appErr.Message).To(Equal(identity.ErrUserNotFound.Message))

			roles, err := env.roles.FetchRoles(ctx, "ghost-user")
			Expect(err).NotTo(HaveOccurred())
			Expect(roles.Empty()).To(BeTrue())

			resolver, err := env.permissions.ForUser(ctx, "ghost-user", roles)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolver.IsHidden(permission.SectionFinance)).To(BeFalse())
		})

		It("refuses callers without a token", func() {
			targetID, _ := env.signedIn(ctx, "survivor-code", role.Courier)
			Expect(env.service.DeleteUser(ctx, "", user.DeleteUserDTO{UserID: targetID})).To(MatchError(internal.ErrNotAuthorized))

			roles, err := env.roles.FetchRoles(ctx, targetID)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles.IsCourier()).To(BeTrue())
		})

		It("requires a user id", func() {
			err := env.service.DeleteUser(ctx, ownerToken, user.DeleteUserDTO{})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("ListUsers", func() {
		It("lists profiles with their roles", func() {
			env.signedIn(ctx, "listed-courier", role.Courier)
			users, err := env.service.ListUsers(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(2))

			byName := map[string][]string{}
			for _, u := range users {
				byName[u.FullName] = u.Roles
			}
			Expect(byName).To(HaveKeyWithValue("owner account", []string{"owner"}))
			Expect(byName).To(HaveKeyWithValue("courier account", []string{"courier"}))
		})
	})
})
