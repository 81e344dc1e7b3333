package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMiddleware(t *testing.T) {
	var got Identity
	var ok bool
	handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	r.Header.Set(HeaderUserID, "77")
	r.Header.Set(HeaderCompanyID, "42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, ok)
	assert.Equal(t, int64(77), got.UserID)
	assert.Equal(t, int64(42), got.CompanyID)
}

func TestIdentityMiddleware_MissingHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantErr string
	}{
		{
			name:    "no headers",
			headers: nil,
			wantErr: "missing X-Girder-User-ID header",
		},
		{
			name:    "missing company",
			headers: map[string]string{HeaderUserID: "77"},
			wantErr: "missing X-Girder-Company-ID header",
		},
		{
			name:    "non numeric user",
			headers: map[string]string{HeaderUserID: "bob", HeaderCompanyID: "42"},
			wantErr: "invalid X-Girder-User-ID header",
		},
		{
			name:    "zero company",
			headers: map[string]string{HeaderUserID: "77", HeaderCompanyID: "0"},
			wantErr: "invalid X-Girder-Company-ID header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			r := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.False(t, handlerCalled)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErr)
		})
	}
}

func TestIdentityFromContext_Absent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := IdentityFromRequest(r)

	assert.False(t, ok)
}
