package rbac

import (
	"net/http"

	"github.com/girderhq/girder/pkg/httputil"
	"github.com/girderhq/girder/pkg/middleware"
)

// RequirePermission gates a handler on a company-wide permission for the
// calling identity. A deny is a hard 403; there is no advisory mode.
//
// Attribute rules attached to the permission are evaluated with an empty
// context here, so rule-gated permissions deny at the middleware layer.
// Handlers that can supply resource attributes should call
// Resolver.CheckPermission themselves instead.
func RequirePermission(resolver *Resolver, permissionID int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := middleware.IdentityFromRequest(r)
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing caller identity")
				return
			}

			decision, err := resolver.CheckPermission(r.Context(), id.CompanyID, id.UserID, permissionID, nil)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if !decision.Allowed {
				httputil.WriteForbidden(w, decision.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProjectPermission gates a handler on a permission within the
// project named by the {projectID} path variable, falling back from the
// caller's company-wide set to their project-scoped assignments.
func RequireProjectPermission(resolver *Resolver, permissionID int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := middleware.IdentityFromRequest(r)
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing caller identity")
				return
			}
			projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectID")
			if !ok {
				return
			}

			decision, err := resolver.CheckProjectPermission(r.Context(), id.CompanyID, projectID, id.UserID, permissionID, nil)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if !decision.Allowed {
				httputil.WriteForbidden(w, decision.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
