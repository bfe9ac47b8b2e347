package session_test

import (
	"context"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		backend *fakeBackend
		client  *session.Client
		changes []session.Change
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = newFakeBackend()
		client = session.NewClient(backend, nil)
		changes = nil
		client.Subscribe(func(_ context.Context, c session.Change) error {
			changes = append(changes, c)
			return nil
		})
	})

	It("starts without a session", func() {
		Expect(client.GetSession()).To(BeNil())
	})

	It("validates and installs a session with one SIGNED_IN notification", func() {
		issued := backend.issue("u-1", time.Now().Add(time.Hour))

		sess, err := client.SetSession(ctx, issued.Tokens())
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.User.ID).To(Equal("u-1"))
		Expect(sess.ExpiresAt).To(BeNumerically(">", time.Now().Unix()))
		Expect(client.GetSession()).To(Equal(sess))

		Expect(changes).To(HaveLen(1))
		Expect(changes[0].Event).To(Equal(session.SignedIn))
		Expect(changes[0].Session.AccessToken).To(Equal(issued.AccessToken))
	})

	It("refreshes an expired access token instead of validating it", func() {
		expired := backend.issue("u-2", time.Now().Add(-time.Minute))
		fresh := backend.issue("u-2", time.Now().Add(time.Hour))
		backend.sessions[expired.RefreshToken] = fresh

		sess, err := client.SetSession(ctx, expired.Tokens())
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.AccessToken).To(Equal(fresh.AccessToken))
		Expect(backend.getCalls).To(BeZero())
		Expect(changes).To(HaveLen(1))
		Expect(changes[0].Event).To(Equal(session.TokenRefreshed))
	})

	It("reports nothing when the token is rejected", func() {
		_, err := client.SetSession(ctx, identity.Tokens{AccessToken: "not-a-jwt", RefreshToken: "refresh"})
		Expect(err).To(MatchError(errUnknownToken))
		Expect(client.GetSession()).To(BeNil())
		Expect(changes).To(BeEmpty())
	})

	It("requires both tokens", func() {
		_, err := client.SetSession(ctx, identity.Tokens{})
		Expect(err).To(HaveOccurred())
	})

	It("refreshes the current session", func() {
		issued := backend.issue("u-3", time.Now().Add(time.Hour))
		_, err := client.SetSession(ctx, issued.Tokens())
		Expect(err).NotTo(HaveOccurred())
		next := backend.issue("u-3", time.Now().Add(2*time.Hour))
		backend.sessions[issued.RefreshToken] = next

		sess, err := client.Refresh(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess).To(Equal(next))
		Expect(changes[len(changes)-1].Event).To(Equal(session.TokenRefreshed))
	})

	It("cannot refresh without a session", func() {
		_, err := client.Refresh(ctx)
		Expect(err).To(MatchError(session.ErrNoSession))
	})

	It("signs out once", func() {
		issued := backend.issue("u-4", time.Now().Add(time.Hour))
		_, err := client.SetSession(ctx, issued.Tokens())
		Expect(err).NotTo(HaveOccurred())

		Expect(client.SignOut(ctx)).To(Succeed())
		Expect(client.SignOut(ctx)).To(Succeed())
		Expect(client.GetSession()).To(BeNil())

		Expect(changes).To(HaveLen(2))
		Expect(changes[1].Event).To(Equal(session.SignedOut))
		Expect(changes[1].Session).To(BeNil())
	})

	It("stops delivering after unsubscribe", func() {
		var late []session.Change
		unsubscribe := client.Subscribe(func(_ context.Context, c session.Change) error {
			late = append(late, c)
			return nil
		})
		unsubscribe()
		unsubscribe()

		issued := backend.issue("u-5", time.Now().Add(time.Hour))
		_, err := client.SetSession(ctx, issued.Tokens())
		Expect(err).NotTo(HaveOccurred())
		Expect(late).To(BeEmpty())
		Expect(changes).To(HaveLen(1))
	})
})
