package auth_test

import (
	"context"
	"net/http"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/credential"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Auth Service", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(masterPassword)
		ctx = context.Background()
	})

	Describe("Login", func() {
		It("requires a password", func() {
			_, err := env.service.Login(ctx, "")
			Expect(err).To(MatchError(internal.ErrPasswordRequired))
			appErr, _ := internal.IsAppError(err)
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects unknown codes with 401 and creates nothing", func() {
			_, err := env.service.Login(ctx, "not-the-master")
			Expect(err).To(MatchError(internal.ErrIncorrectPassword))
			Expect(env.countIdentities()).To(BeZero())
			Expect(testutil.ToFloat64(env.metrics.LoginTotal.WithLabelValues(observability.OutcomeFailure))).To(Equal(1.0))
		})

		It("rejects a wrong code for an existing account the same way", func() {
			_, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.Login(ctx, masterPassword+"x")
			Expect(err).To(MatchError(internal.ErrIncorrectPassword))
		})

		It("returns roles inline with the session", func() {
			owner, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.users.CreateUser(ctx, owner.Session.AccessToken, user.CreateUserDTO{
				FullName: "Robin Rider", LoginCode: "courier-123", Role: "courier",
			})
			Expect(err).NotTo(HaveOccurred())

			result, err := env.service.Login(ctx, "courier-123")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Roles).To(Equal([]string{"courier"}))
			Expect(result.Session.AccessToken).NotTo(BeEmpty())
			Expect(result.User.Email).To(Equal(credential.CodeToEmail("courier-123")))
		})
	})

	Describe("Owner bootstrap", func() {
		It("creates the owner once and signs in afterwards", func() {
			first, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Roles).To(Equal([]string{"owner"}))
			Expect(first.Session.AccessToken).NotTo(BeEmpty())

			second, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.User.ID).To(Equal(first.User.ID))
			Expect(env.countIdentities()).To(Equal(int64(1)))

			var ownerRows int64
			Expect(env.db.Table("user_roles").Where("role = ?", "owner").Count(&ownerRows).Error).To(Succeed())
			Expect(ownerRows).To(Equal(int64(1)))

			Expect(testutil.ToFloat64(env.metrics.OwnerBootstrapTotal.WithLabelValues(observability.OutcomeSuccess))).To(Equal(1.0))
		})

		It("names the owner profile", func() {
			result, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())
			p, err := env.users.GetProfile(ctx, result.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.FullName).To(Equal("Owner"))
		})

		It("surfaces the creation error when the account already exists", func() {
			_, err := env.provider.CreateUser(ctx, identity.CreateUserParams{
				Email:    credential.CodeToEmail(masterPassword),
				Password: "a-different-password",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.Login(ctx, masterPassword)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(appErr.Message).To(Equal(identity.ErrEmailExists.Message))
			Expect(env.countIdentities()).To(Equal(int64(1)))
		})

		It("is disabled without a master password", func() {
			env = newTestEnv("")
			_, err := env.service.Login(ctx, masterPassword)
			Expect(err).To(MatchError(internal.ErrIncorrectPassword))
			Expect(env.countIdentities()).To(BeZero())
		})

		It("announces the new owner", func() {
			received := make(chan events.Event, 1)
			env.bus.Subscribe(events.OwnerBootstrapped, func(_ context.Context, e events.Event) error {
				received <- e
				return nil
			})
			result, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			var e events.Event
			Eventually(received).Should(Receive(&e))
			Expect(e.Payload()).To(HaveKeyWithValue("user_id", result.User.ID))
		})
	})

	Describe("Refresh and CurrentUser", func() {
		It("refreshes with current roles", func() {
			login, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			refreshed, err := env.service.Refresh(ctx, login.Session.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshed.Roles).To(Equal([]string{"owner"}))
			Expect(refreshed.User.ID).To(Equal(login.User.ID))
		})

		It("rejects an access token used as refresh token", func() {
			login, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.Refresh(ctx, login.Session.AccessToken)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("resolves the caller of an access token", func() {
			login, err := env.service.Login(ctx, masterPassword)
			Expect(err).NotTo(HaveOccurred())

			u, roles, err := env.service.CurrentUser(ctx, login.Session.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.ID).To(Equal(login.User.ID))
			Expect(roles.Has(role.Owner)).To(BeTrue())

			_, _, err = env.service.CurrentUser(ctx, "")
			Expect(err).To(MatchError(internal.ErrInvalidToken))
		})
	})
})
