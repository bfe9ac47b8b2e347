package session_test

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Context", func() {
	var (
		ctx       context.Context
		backend   *fakeBackend
		roles     *fakeRoles
		client    *session.Client
		state     *session.Context
		snapshots []session.Snapshot
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = newFakeBackend()
		roles = &fakeRoles{backend: backend, roles: map[string]role.Set{}}
		client = session.NewClient(backend, nil)
		state = session.NewContext(client, roles, nil)
		snapshots = nil
		state.Watch(func(s session.Snapshot) {
			snapshots = append(snapshots, s)
		})
	})

	AfterEach(func() {
		state.Stop()
	})

	// neverRoleless is the login race property: no published snapshot holds
	// a session without the roles of its user.
	neverRoleless := func() {
		for _, s := range snapshots {
			if s.Session != nil {
				ExpectWithOffset(1, s.Roles).NotTo(BeEmpty(), "snapshot %d has a session but no roles", s.Version)
			}
		}
	}

	It("is loading until started", func() {
		Expect(state.Snapshot().State).To(Equal(session.Loading))
	})

	It("settles as anonymous without a session", func() {
		Expect(state.Start(ctx)).To(Succeed())
		Expect(snapshots).To(HaveLen(1))
		Expect(snapshots[0].State).To(Equal(session.Anonymous))
		Expect(snapshots[0].IsAuthenticated()).To(BeFalse())
	})

	It("refuses to start twice", func() {
		Expect(state.Start(ctx)).To(Succeed())
		Expect(state.Start(ctx)).NotTo(Succeed())
	})

	It("restores an existing session with its roles", func() {
		existing := backend.issue("owner-1", time.Now().Add(time.Hour))
		roles.roles["owner-1"] = role.NewSet(role.Owner)
		_, err := client.SetSession(ctx, existing.Tokens())
		Expect(err).NotTo(HaveOccurred())

		Expect(state.Start(ctx)).To(Succeed())
		Expect(snapshots).To(HaveLen(1))
		Expect(snapshots[0].State).To(Equal(session.Authenticated))
		Expect(snapshots[0].IsOwner()).To(BeTrue())
		Expect(snapshots[0].User.ID).To(Equal("owner-1"))
	})

	It("settles as anonymous when roles of an existing session cannot be loaded", func() {
		existing := backend.issue("u-err", time.Now().Add(time.Hour))
		_, err := client.SetSession(ctx, existing.Tokens())
		Expect(err).NotTo(HaveOccurred())
		roles.err = errors.New("roles unavailable")

		Expect(state.Start(ctx)).To(MatchError(ContainSubstring("roles unavailable")))
		Expect(state.Snapshot().State).To(Equal(session.Anonymous))
	})

	Describe("login", func() {
		BeforeEach(func() {
			Expect(state.Start(ctx)).To(Succeed())
			snapshots = nil
		})

		It("publishes session and roles in one transition and absorbs the follow-up notification", func() {
			sess := backend.issue("admin-1", time.Now().Add(time.Hour))
			roles.roles["admin-1"] = role.NewSet(role.Admin)

			Expect(state.Login(ctx, sess, role.NewSet(role.Admin))).To(Succeed())

			Expect(snapshots).To(HaveLen(1))
			Expect(snapshots[0].State).To(Equal(session.Authenticated))
			Expect(snapshots[0].IsAdmin()).To(BeTrue())
			Expect(roles.callCount()).To(BeZero())
			Expect(client.GetSession().AccessToken).To(Equal(sess.AccessToken))
			neverRoleless()
		})

		It("keeps roles through a refresh-on-set", func() {
			expired := backend.issue("courier-1", time.Now().Add(-time.Minute))
			fresh := backend.issue("courier-1", time.Now().Add(time.Hour))
			backend.sessions[expired.RefreshToken] = fresh
			roles.roles["courier-1"] = role.NewSet(role.Courier)

			Expect(state.Login(ctx, expired, role.NewSet(role.Courier))).To(Succeed())

			Expect(snapshots).To(HaveLen(2))
			Expect(snapshots[1].Session.AccessToken).To(Equal(fresh.AccessToken))
			Expect(snapshots[1].IsCourier()).To(BeTrue())
			neverRoleless()
		})

		It("drops a refreshed session whose roles cannot be loaded", func() {
			expired := backend.issue("courier-2", time.Now().Add(-time.Minute))
			fresh := backend.issue("courier-2", time.Now().Add(time.Hour))
			backend.sessions[expired.RefreshToken] = fresh
			roles.err = errors.New("roles unavailable")

			Expect(state.Login(ctx, expired, role.NewSet(role.Courier))).NotTo(Succeed())

			Expect(state.Snapshot().State).To(Equal(session.Anonymous))
			Expect(state.Snapshot().Session).To(BeNil())
			Expect(client.GetSession()).To(BeNil())
			neverRoleless()
		})

		It("falls back to anonymous when the provider rejects the session", func() {
			sess := &identity.Session{AccessToken: "bogus", RefreshToken: "bogus", User: &identity.User{ID: "x"}}

			Expect(state.Login(ctx, sess, role.NewSet(role.Admin))).NotTo(Succeed())
			Expect(state.Snapshot().State).To(Equal(session.Anonymous))
			Expect(state.Snapshot().Session).To(BeNil())
		})
	})

	It("fetches roles before publishing a session set elsewhere", func() {
		Expect(state.Start(ctx)).To(Succeed())
		sess := backend.issue("courier-2", time.Now().Add(time.Hour))
		roles.roles["courier-2"] = role.NewSet(role.Courier)

		_, err := client.SetSession(ctx, sess.Tokens())
		Expect(err).NotTo(HaveOccurred())

		Expect(roles.callCount()).To(Equal(1))
		Expect(state.Snapshot().IsCourier()).To(BeTrue())
		neverRoleless()
	})

	It("follows token refreshes", func() {
		Expect(state.Start(ctx)).To(Succeed())
		sess := backend.issue("admin-2", time.Now().Add(time.Hour))
		roles.roles["admin-2"] = role.NewSet(role.Admin)
		Expect(state.Login(ctx, sess, role.NewSet(role.Admin))).To(Succeed())

		next := backend.issue("admin-2", time.Now().Add(2*time.Hour))
		backend.sessions[sess.RefreshToken] = next
		_, err := client.Refresh(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(state.Snapshot().Session.AccessToken).To(Equal(next.AccessToken))
		Expect(state.Snapshot().IsAdmin()).To(BeTrue())
		neverRoleless()
	})

	It("clears session, user and roles on sign-out", func() {
		Expect(state.Start(ctx)).To(Succeed())
		sess := backend.issue("admin-3", time.Now().Add(time.Hour))
		Expect(state.Login(ctx, sess, role.NewSet(role.Admin))).To(Succeed())

		Expect(state.SignOut(ctx)).To(Succeed())

		last := state.Snapshot()
		Expect(last.State).To(Equal(session.Anonymous))
		Expect(last.Session).To(BeNil())
		Expect(last.User).To(BeNil())
		Expect(last.Roles).To(BeEmpty())
		Expect(client.GetSession()).To(BeNil())
	})

	It("publishes nothing for a sign-out while anonymous", func() {
		Expect(state.Start(ctx)).To(Succeed())
		snapshots = nil
		Expect(state.SignOut(ctx)).To(Succeed())
		Expect(snapshots).To(BeEmpty())
	})

	It("ignores the client after Stop", func() {
		Expect(state.Start(ctx)).To(Succeed())
		state.Stop()

		sess := backend.issue("late", time.Now().Add(time.Hour))
		_, err := client.SetSession(ctx, sess.Tokens())
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Snapshot().State).To(Equal(session.Anonymous))
	})

	It("numbers snapshots in publication order", func() {
		Expect(state.Start(ctx)).To(Succeed())
		sess := backend.issue("admin-4", time.Now().Add(time.Hour))
		Expect(state.Login(ctx, sess, role.NewSet(role.Admin))).To(Succeed())
		Expect(state.SignOut(ctx)).To(Succeed())

		Expect(snapshots).To(HaveLen(3))
		for i := 1; i < len(snapshots); i++ {
			Expect(snapshots[i].Version).To(Equal(snapshots[i-1].Version + 1))
		}
	})

	Describe("Snapshot.Permissions", func() {
		It("gives owners edit everywhere", func() {
			snap := session.Snapshot{State: session.Authenticated, Roles: role.NewSet(role.Owner)}
			resolver := snap.Permissions([]permission.Row{{Section: permission.SectionOrders, Level: permission.LevelHidden}})
			Expect(resolver.Permission(permission.SectionOrders)).To(Equal(permission.LevelEdit))
		})

		It("applies stored rows for everyone else", func() {
			snap := session.Snapshot{State: session.Authenticated, Roles: role.NewSet(role.Courier)}
			resolver := snap.Permissions([]permission.Row{{Section: permission.SectionOrders, Level: permission.LevelView}})
			Expect(resolver.CanView(permission.SectionOrders)).To(BeTrue())
			Expect(resolver.CanEdit(permission.SectionOrders)).To(BeFalse())
			Expect(resolver.CanEdit(permission.SectionFinance)).To(BeTrue())
		})
	})
})
