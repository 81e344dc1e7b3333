package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/girderhq/girder/pkg/httputil"
)

// Headers set by the session gateway after it authenticates the caller.
// This service trusts the pairing; it never sees credentials.
const (
	HeaderUserID    = "X-Girder-User-ID"
	HeaderCompanyID = "X-Girder-Company-ID"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller as asserted by the gateway.
type Identity struct {
	UserID    int64
	CompanyID int64
}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the caller identity, if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// IdentityFromRequest extracts the caller identity from the request context.
func IdentityFromRequest(r *http.Request) (Identity, bool) {
	return IdentityFromContext(r.Context())
}

// IdentityMiddleware reads the gateway identity headers and places the
// Identity in the request context. Requests without both headers are
// rejected before any handler runs.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseHeaderInt64(r, HeaderUserID)
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		companyID, err := parseHeaderInt64(r, HeaderCompanyID)
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UserID: userID, CompanyID: companyID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseHeaderInt64(r *http.Request, header string) (int64, error) {
	raw := r.Header.Get(header)
	if raw == "" {
		return 0, &headerError{header: header, reason: "missing"}
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val <= 0 {
		return 0, &headerError{header: header, reason: "invalid"}
	}
	return val, nil
}

type headerError struct {
	header string
	reason string
}

func (e *headerError) Error() string {
	return e.reason + " " + e.header + " header"
}
