package auth_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/auth"
)

var _ = Describe("Permissions", func() {
	DescribeTable("Required",
		func(method, path string, want auth.Permission, mapped bool) {
			perm, ok := auth.Required(method, path)
			Expect(ok).To(Equal(mapped))
			Expect(perm).To(Equal(want))
		},
		Entry("list devices", http.MethodGet, "/api/devices", auth.PermDevicesRead, true),
		Entry("head device", http.MethodHead, "/api/devices/7", auth.PermDevicesRead, true),
		Entry("create device", http.MethodPost, "/api/devices", auth.PermDevicesCreate, true),
		Entry("patch device", http.MethodPatch, "/api/devices/7", auth.PermDevicesUpdate, true),
		Entry("delete device", http.MethodDelete, "/api/devices/7", auth.PermDevicesDelete, true),
		Entry("bulk ingest", http.MethodPost, "/api/readings/bulk", auth.PermReadingsCreate, true),
		Entry("schedule transition", http.MethodPost, "/api/schedules/3/status", auth.PermSchedulesUpdate, true),
		Entry("admin reset", http.MethodDelete, "/api/admin/rate-limits", auth.PermAdminDelete, true),
		Entry("lookalike prefix", http.MethodGet, "/api/devicesx", auth.Permission(""), false),
		Entry("status page", http.MethodGet, "/api/status", auth.Permission(""), false),
		Entry("unknown method", "OPTIONS", "/api/devices", auth.Permission(""), false),
	)

	It("should grant viewers read only", func() {
		Expect(auth.HasPermission(auth.RoleViewer, auth.PermDevicesRead)).To(BeTrue())
		Expect(auth.HasPermission(auth.RoleViewer, auth.PermDevicesDelete)).To(BeFalse())
	})

	It("should keep admin permissions for admins", func() {
		for _, role := range []auth.Role{auth.RoleViewer, auth.RoleMember, auth.RoleOperator} {
			Expect(auth.HasPermission(role, auth.PermAdminDelete)).To(BeFalse(), string(role))
		}
		Expect(auth.HasPermission(auth.RoleAdmin, auth.PermAdminDelete)).To(BeTrue())
	})

	It("should return a copy of role permissions", func() {
		perms := auth.PermissionsForRole(auth.RoleViewer)
		perms[0] = "tampered"
		Expect(auth.PermissionsForRole(auth.RoleViewer)[0]).To(Equal(auth.PermDevicesRead))
	})

	It("should map org role claims onto two tiers", func() {
		Expect(auth.OrgRole("admin")).To(Equal(auth.RoleAdmin))
		Expect(auth.OrgRole("Owner")).To(Equal(auth.RoleAdmin))
		Expect(auth.OrgRole("basic_member")).To(Equal(auth.RoleMember))
		Expect(auth.OrgRole("")).To(Equal(auth.RoleMember))
	})

	Describe("Policy", func() {
		viewer := &auth.Context{Name: "grafana", Role: auth.RoleViewer, Authenticated: true}

		It("should forbid a viewer DELETE and name the permission", func() {
			err := auth.Policy{}.Authorize(viewer, http.MethodDelete, "/api/devices/1")
			appErr := apierr.From(err)
			Expect(appErr.Status).To(Equal(http.StatusForbidden))
			Expect(appErr.Meta).To(HaveKeyWithValue("permission", "devices:delete"))
		})

		It("should allow a viewer GET", func() {
			Expect(auth.Policy{}.Authorize(viewer, http.MethodGet, "/api/devices")).To(Succeed())
		})

		It("should never grant gated operations to anonymous callers", func() {
			err := auth.Policy{}.Authorize(auth.Anonymous("org"), http.MethodGet, "/api/devices")
			Expect(apierr.From(err).Status).To(Equal(http.StatusUnauthorized))

			forged := &auth.Context{Role: auth.RoleAdmin, Authenticated: false}
			Expect(auth.Policy{}.Authorize(forged, http.MethodGet, "/api/devices")).NotTo(Succeed())
		})

		It("should leave unmapped routes open by default", func() {
			Expect(auth.Policy{}.Authorize(nil, http.MethodGet, "/api/status")).To(Succeed())
		})

		It("should deny unmapped routes when configured", func() {
			err := auth.Policy{DefaultDeny: true}.Authorize(viewer, http.MethodGet, "/api/status")
			Expect(apierr.From(err).Code).To(Equal(apierr.CodeForbidden))
		})
	})
})
