package auth_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/pkg/logger"
)

func newRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func apiKeyAuthenticator(raw string) *auth.Authenticator {
	a, err := auth.NewAuthenticator(auth.Config{
		Mode:       auth.ModeAPIKey,
		Keys:       auth.NewKeyTable(auth.StaticKeys(raw)),
		DefaultOrg: "org-1",
		Logger:     logger.Discard(),
	})
	Expect(err).NotTo(HaveOccurred())
	return a
}

var _ = Describe("Authenticator", func() {
	Describe("NewAuthenticator", func() {
		It("should require a key table in apikey mode", func() {
			_, err := auth.NewAuthenticator(auth.Config{Mode: auth.ModeAPIKey, Logger: logger.Discard()})
			Expect(err).To(MatchError(ContainSubstring("key table")))
		})

		It("should require a provider in session mode", func() {
			_, err := auth.NewAuthenticator(auth.Config{Mode: auth.ModeSession, Logger: logger.Discard()})
			Expect(err).To(MatchError(ContainSubstring("identity provider")))
		})

		It("should reject unknown modes", func() {
			_, err := auth.ParseMode("ldap")
			Expect(err).To(HaveOccurred())
			m, err := auth.ParseMode("")
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(auth.ModeAPIKey))
		})
	})

	Describe("API-key mode", func() {
		It("should admit everyone as admin when no keys are configured", func() {
			ac, err := apiKeyAuthenticator("").Resolve(newRequest(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.Authenticated).To(BeTrue())
			Expect(ac.Role).To(Equal(auth.RoleAdmin))
			Expect(ac.Name).To(Equal(auth.LocalAdminName))
			Expect(ac.Method).To(Equal(auth.MethodDisabled))
			Expect(ac.OrgID).To(Equal("org-1"))
		})

		It("should reject a request without credentials once a key exists", func() {
			_, err := apiKeyAuthenticator("ci:abc:admin").Resolve(newRequest(nil))
			appErr := apierr.From(err)
			Expect(appErr.Status).To(Equal(http.StatusUnauthorized))
			Expect(errors.Is(err, auth.ErrNoCredentials)).To(BeTrue())
		})

		It("should reject an unknown key", func() {
			_, err := apiKeyAuthenticator("ci:abc:admin").Resolve(newRequest(map[string]string{
				"X-API-Key": "nope",
			}))
			Expect(apierr.From(err).Code).To(Equal(apierr.CodeUnauthorized))
			Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())
		})

		It("should accept a bearer token", func() {
			ac, err := apiKeyAuthenticator("grafana:abc:viewer").Resolve(newRequest(map[string]string{
				"Authorization": "Bearer abc",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.Name).To(Equal("grafana"))
			Expect(ac.Role).To(Equal(auth.RoleViewer))
			Expect(ac.Method).To(Equal(auth.MethodAPIKey))
		})

		It("should accept the X-API-Key header", func() {
			ac, err := apiKeyAuthenticator("edge:k:operator").Resolve(newRequest(map[string]string{
				"X-API-Key": "k",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.Role).To(Equal(auth.RoleOperator))
		})

		It("should downgrade invalid credentials to anonymous in optional mode", func() {
			ac := apiKeyAuthenticator("ci:abc:admin").ResolveOptional(newRequest(map[string]string{
				"X-API-Key": "wrong",
			}))
			Expect(ac.Authenticated).To(BeFalse())
			Expect(ac.Method).To(Equal(auth.MethodAnonymous))
		})
	})

	Describe("session mode with signed tokens", func() {
		var (
			provider *auth.JWTProvider
			a        *auth.Authenticator
		)

		BeforeEach(func() {
			var err error
			provider, err = auth.NewJWTProvider("test-secret")
			Expect(err).NotTo(HaveOccurred())
			a, err = auth.NewAuthenticator(auth.Config{
				Mode:     auth.ModeSession,
				Provider: provider,
				Logger:   logger.Discard(),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should map the org role claim", func() {
			token, err := provider.Issue(auth.Identity{
				UserID: "u1", Name: "Ada", OrgID: "org-9", OrgRole: "basic_member",
			}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			ac, err := a.Resolve(newRequest(map[string]string{"Authorization": "Bearer " + token}))
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.Role).To(Equal(auth.RoleMember))
			Expect(ac.OrgID).To(Equal("org-9"))
			Expect(ac.Name).To(Equal("Ada"))
		})

		It("should read the session cookie", func() {
			token, err := provider.Issue(auth.Identity{UserID: "u1", OrgID: "org-9", OrgRole: "admin"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			r := newRequest(nil)
			r.AddCookie(&http.Cookie{Name: "session", Value: token})
			ac, err := a.Resolve(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.IsAdmin()).To(BeTrue())
		})

		It("should reject expired tokens", func() {
			token, err := provider.Issue(auth.Identity{UserID: "u1", OrgID: "org-9"}, -time.Minute)
			Expect(err).NotTo(HaveOccurred())

			_, err = a.Resolve(newRequest(map[string]string{"Authorization": "Bearer " + token}))
			Expect(apierr.From(err).Status).To(Equal(http.StatusUnauthorized))
		})

		It("should reject tokens signed with another secret", func() {
			other, _ := auth.NewJWTProvider("other-secret")
			token, err := other.Issue(auth.Identity{UserID: "u1", OrgID: "org-9"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			_, err = a.Resolve(newRequest(map[string]string{"Authorization": "Bearer " + token}))
			Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())
		})

		It("should reject sessions without an organization", func() {
			token, err := provider.Issue(auth.Identity{UserID: "u1"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			_, err = a.Resolve(newRequest(map[string]string{"Authorization": "Bearer " + token}))
			Expect(apierr.From(err).Status).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("session mode with a remote identity provider", func() {
		var (
			idp *httptest.Server
			a   *auth.Authenticator
		)

		BeforeEach(func() {
			idp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.Header.Get("Authorization") {
				case "Bearer good":
					w.Header().Set("Content-Type", "application/json")
					_ = json.NewEncoder(w).Encode(map[string]any{
						"user":         map[string]string{"id": "u7", "name": "Grace"},
						"organization": map[string]string{"id": "org-3", "role": "admin"},
					})
				case "Bearer boom":
					w.WriteHeader(http.StatusBadGateway)
				default:
					w.WriteHeader(http.StatusUnauthorized)
				}
			}))
			DeferCleanup(idp.Close)

			provider, err := auth.NewRemoteProvider(idp.URL, time.Second)
			Expect(err).NotTo(HaveOccurred())
			a, err = auth.NewAuthenticator(auth.Config{
				Mode:     auth.ModeSession,
				Provider: provider,
				Logger:   logger.Discard(),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should resolve the session from the provider", func() {
			ac, err := a.Resolve(newRequest(map[string]string{"Authorization": "Bearer good"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(ac.Name).To(Equal("Grace"))
			Expect(ac.OrgID).To(Equal("org-3"))
			Expect(ac.Role).To(Equal(auth.RoleAdmin))
		})

		It("should map provider rejections to 401", func() {
			_, err := a.Resolve(newRequest(map[string]string{"Authorization": "Bearer bad"}))
			Expect(apierr.From(err).Status).To(Equal(http.StatusUnauthorized))
		})

		It("should map provider outages to 500", func() {
			_, err := a.Resolve(newRequest(map[string]string{"Authorization": "Bearer boom"}))
			Expect(apierr.From(err).Status).To(Equal(http.StatusInternalServerError))
		})

		It("should not call the provider without credentials", func() {
			_, err := a.Resolve(newRequest(nil))
			Expect(errors.Is(err, auth.ErrNoCredentials)).To(BeTrue())
		})
	})
})
