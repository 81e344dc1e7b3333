// Package middleware provides the HTTP middleware shared by the girder
// server: gateway identity extraction and request-id propagation.
//
// Authentication happens at the session gateway, not here. The gateway
// injects X-Girder-User-ID and X-Girder-Company-ID after validating the
// session; IdentityMiddleware turns those headers into an Identity value
// in the request context and rejects requests that lack them. Everything
// downstream, including the authorization middleware in pkg/rbac, reads
// the identity with IdentityFromRequest.
package middleware
