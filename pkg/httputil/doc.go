// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, template)
//	httputil.WriteConflict(w, "role name already in use")
//	httputil.WriteNotFoundError(w, "assignment not found")
//
// # Request Parsing
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
//
// # Related Packages
//
//   - pkg/middleware: identity and request-id middleware
//   - pkg/rbac: the handlers these helpers serve
package httputil
