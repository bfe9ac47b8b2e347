package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/courier-backoffice/internal/auth"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/transport/middleware"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingService struct{}

func (failingService) Login(context.Context, string) (*auth.LoginResult, error) {
	return nil, errors.New("connection refused")
}

func (failingService) Refresh(context.Context, string) (*auth.LoginResult, error) {
	return nil, errors.New("connection refused")
}

func (failingService) CurrentUser(context.Context, string) (*identity.User, role.Set, error) {
	return nil, nil, errors.New("connection refused")
}

var _ = Describe("Auth Handler", func() {
	var (
		env    *testEnv
		router *chi.Mux
	)

	BeforeEach(func() {
		env = newTestEnv(masterPassword)
		router = chi.NewRouter()
		router.Use(middleware.CORS([]string{"*"}))
		router.Post("/auth", env.handler.ServeAuth)
		router.Post("/auth/refresh", env.handler.RefreshToken)
		router.With(env.handler.AuthMiddleware).Get("/auth/user", env.handler.GetUser)
		router.With(env.handler.AuthMiddleware, env.handler.RequireOwnerOrAdmin()).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	call := func(method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var out map[string]interface{}
		if w.Body.Len() > 0 {
			Expect(json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed())
		}
		return w, out
	}

	login := func(password string) (string, map[string]interface{}) {
		w, out := call(http.MethodPost, "/auth", "", map[string]interface{}{"password": password})
		Expect(w.Code).To(Equal(http.StatusOK), "login failed: %v", out)
		session := out["session"].(map[string]interface{})
		return session["access_token"].(string), out
	}

	createUser := func(token string, userData map[string]interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
		return call(http.MethodPost, "/auth", token, map[string]interface{}{"action": "create-user", "userData": userData})
	}

	It("answers preflight with 204 and CORS headers", func() {
		w, _ := call(http.MethodOptions, "/auth", "", nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(w.Body.Len()).To(BeZero())
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})

	It("logs in with session, user and roles", func() {
		_, out := login(masterPassword)
		Expect(out).To(HaveKey("user"))
		Expect(out["roles"]).To(Equal([]interface{}{"owner"}))
	})

	It("accepts an explicit login action", func() {
		w, _ := call(http.MethodPost, "/auth", "", map[string]interface{}{"action": "login", "password": masterPassword})
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("reports a missing password with 400", func() {
		w, out := call(http.MethodPost, "/auth", "", map[string]interface{}{})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(out).To(HaveKeyWithValue("error", "Password is required"))
	})

	It("reports a bad password with 401", func() {
		w, out := call(http.MethodPost, "/auth", "", map[string]interface{}{"password": "nobody-has-this"})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(out).To(HaveKeyWithValue("error", "Incorrect password"))
		Expect(env.countIdentities()).To(BeZero())
	})

	It("rejects unknown actions", func() {
		w, out := call(http.MethodPost, "/auth", "", map[string]interface{}{"action": "promote"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(out).To(HaveKeyWithValue("error", "Unknown action"))
	})

	It("rejects malformed JSON", func() {
		req := httptest.NewRequest(http.MethodPost, "/auth", bytes.NewBufferString("{nope"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	Describe("create-user", func() {
		It("returns 403 without a token and writes nothing", func() {
			w, out := createUser("", map[string]interface{}{"full_name": "A", "login_code": "code-0001", "role": "courier"})
			Expect(w.Code).To(Equal(http.StatusForbidden))
			Expect(out).To(HaveKeyWithValue("error", "Not authorized"))
			Expect(env.countIdentities()).To(BeZero())
			Expect(testutil.ToFloat64(env.metrics.AdminActionsTotal.WithLabelValues(auth.ActionCreateUser, observability.OutcomeDenied))).To(Equal(1.0))
		})

		It("returns 403 for a courier", func() {
			owner, _ := login(masterPassword)
			w, _ := createUser(owner, map[string]interface{}{"full_name": "C", "login_code": "courier-01", "role": "courier"})
			Expect(w.Code).To(Equal(http.StatusOK))

			courier, _ := login("courier-01")
			w, _ = createUser(courier, map[string]interface{}{"full_name": "D", "login_code": "courier-02", "role": "courier"})
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("refuses the owner role with 400", func() {
			owner, _ := login(masterPassword)
			w, out := createUser(owner, map[string]interface{}{"full_name": "O", "login_code": "owner-two", "role": "owner"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(out).To(HaveKeyWithValue("error", "Invalid role"))
		})

		It("returns the new user id", func() {
			owner, _ := login(masterPassword)
			w, out := createUser(owner, map[string]interface{}{"full_name": "Robin", "phone": "+1555", "login_code": "robin-code", "role": "admin"})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("success", true))
			Expect(out["user_id"]).NotTo(BeEmpty())
		})

		It("rejects short login codes with 400", func() {
			owner, _ := login(masterPassword)
			w, out := createUser(owner, map[string]interface{}{"full_name": "Shorty", "login_code": "abc", "role": "courier"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(out).To(HaveKeyWithValue("error", "login_code must be at least 6 characters"))
		})
	})

	Describe("update-password", func() {
		It("invalidates the old code and enables the new one", func() {
			owner, _ := login(masterPassword)
			_, created := createUser(owner, map[string]interface{}{"full_name": "Rota", "login_code": "rota-old", "role": "courier"})

			w, out := call(http.MethodPost, "/auth", owner, map[string]interface{}{
				"action":   "update-password",
				"userData": map[string]interface{}{"user_id": created["user_id"], "new_password": "rota-new"},
			})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("success", true))

			w, _ = call(http.MethodPost, "/auth", "", map[string]interface{}{"password": "rota-old"})
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			login("rota-new")
		})

		It("returns 403 without a token", func() {
			w, _ := call(http.MethodPost, "/auth", "", map[string]interface{}{
				"action":   "update-password",
				"userData": map[string]interface{}{"user_id": "someone", "new_password": "whatever"},
			})
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("delete-user", func() {
		It("removes the account and its roles", func() {
			owner, _ := login(masterPassword)
			_, created := createUser(owner, map[string]interface{}{"full_name": "Gone", "login_code": "gone-code", "role": "admin"})
			id := created["user_id"].(string)

			w, out := call(http.MethodPost, "/auth", owner, map[string]interface{}{
				"action":   "delete-user",
				"userData": map[string]interface{}{"user_id": id},
			})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("success", true))

			roles, err := env.roles.FetchRoles(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles.Empty()).To(BeTrue())

			w, _ = call(http.MethodPost, "/auth", "", map[string]interface{}{"password": "gone-code"})
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("clears role rows even when the identity is already gone", func() {
			owner, _ := login(masterPassword)
			Expect(env.roles.Assign(context.Background(), "ghost-user", role.Courier)).To(Succeed())

			w, out := call(http.MethodPost, "/auth", owner, map[string]interface{}{
				"action":   "delete-user",
				"userData": map[string]interface{}{"user_id": "ghost-user"},
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(out).To(HaveKeyWithValue("error", "User not found"))

			roles, err := env.roles.FetchRoles(context.Background(), "ghost-user")
			Expect(err).NotTo(HaveOccurred())
			Expect(roles.Empty()).To(BeTrue())
		})
	})

	Describe("session routes", func() {
		It("refreshes a session", func() {
			_, out := login(masterPassword)
			refresh := out["session"].(map[string]interface{})["refresh_token"]

			w, refreshed := call(http.MethodPost, "/auth/refresh", "", map[string]interface{}{"refresh_token": refresh})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(refreshed["roles"]).To(Equal([]interface{}{"owner"}))
		})

		It("requires a refresh token", func() {
			w, _ := call(http.MethodPost, "/auth/refresh", "", map[string]interface{}{})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("describes the current user", func() {
			token, _ := login(masterPassword)
			w, out := call(http.MethodGet, "/auth/user", token, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(out["roles"]).To(Equal([]interface{}{"owner"}))
		})

		It("returns 401 for a garbage bearer token", func() {
			w, _ := call(http.MethodGet, "/auth/user", "garbage", nil)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("gates owner/admin routes", func() {
			owner, _ := login(masterPassword)
			createUser(owner, map[string]interface{}{"full_name": "C", "login_code": "gate-courier", "role": "courier"})
			courier, _ := login("gate-courier")

			w, _ := call(http.MethodGet, "/admin", owner, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			w, _ = call(http.MethodGet, "/admin", courier, nil)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})
	})

	It("maps unexpected failures to 500 with the message", func() {
		h := auth.NewHandler(failingService{}, env.users, nil)
		req := httptest.NewRequest(http.MethodPost, "/auth", bytes.NewBufferString(`{"password":"x"}`))
		w := httptest.NewRecorder()
		h.ServeAuth(w, req)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		var out map[string]interface{}
		Expect(json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed())
		Expect(out).To(HaveKeyWithValue("error", "connection refused"))
	})
})
