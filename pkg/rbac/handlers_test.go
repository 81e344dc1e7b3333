package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/girderhq/girder/pkg/companies"
	"github.com/girderhq/girder/pkg/middleware"
	"github.com/girderhq/girder/pkg/permissions"
)

type handlersFixture struct {
	*resolverFixture
	router *mux.Router
}

func setupHandlers(t *testing.T) *handlersFixture {
	t.Helper()
	f := setupResolver(t)

	h := NewHandlers(f.store, f.companies, f.resolver, nil)
	router := mux.NewRouter()
	h.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())

	return &handlersFixture{resolverFixture: f, router: router}
}

// do issues a request as user 1 of the fixture company unless identity is
// overridden with asUser.
func (f *handlersFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAs(t, &middleware.Identity{UserID: 1, CompanyID: f.companyID}, method, path, body)
}

func (f *handlersFixture) doAs(t *testing.T, id *middleware.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, path, reader)
	if id != nil {
		r = r.WithContext(middleware.WithIdentity(r.Context(), *id))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHandlers_TemplateCRUD(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, http.MethodPost, "/api/v1/templates", map[string]any{
		"name":           "Project Manager",
		"category":       permissions.CategoryProjectManager,
		"permission_set": []int{permissions.PermProjectCreate, permissions.PermScheduleManage},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created RoleTemplate
	decodeBody(t, w, &created)
	if created.ID == 0 {
		t.Fatal("Expected template ID to be set")
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var fetched RoleTemplate
	decodeBody(t, w, &fetched)
	if fetched.Name != "Project Manager" {
		t.Errorf("Expected name 'Project Manager', got %q", fetched.Name)
	}

	w = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/templates/%d", created.ID), map[string]any{
		"name":           "Project Manager",
		"category":       permissions.CategoryProjectManager,
		"permission_set": []int{permissions.PermProjectCreate},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/templates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var list []RoleTemplate
	decodeBody(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 template, got %d", len(list))
	}
	assertPermissions(t, list[0].PermissionSet, []int{permissions.PermProjectCreate})
}

func TestHandlers_TemplateConflict(t *testing.T) {
	f := setupHandlers(t)

	body := map[string]any{
		"name":           "Foreman",
		"category":       permissions.CategoryCompany,
		"permission_set": []int{permissions.PermTaskCreate},
	}
	if w := f.do(t, http.MethodPost, "/api/v1/templates", body); w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/templates", body); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on duplicate name, got %d", w.Code)
	}
}

func TestHandlers_TemplateUnknownPermission(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, http.MethodPost, "/api/v1/templates", map[string]any{
		"name":           "Bad",
		"category":       permissions.CategoryCompany,
		"permission_set": []int{9999},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown permission id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlers_MissingIdentity(t *testing.T) {
	f := setupHandlers(t)

	w := f.doAs(t, nil, http.MethodPost, "/api/v1/templates", map[string]any{"name": "X"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", w.Code)
	}
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/companies/%d/roles", f.companyID), map[string]any{
		"name":               "site-super",
		"custom_permissions": []int{permissions.PermTaskCreate, permissions.PermPhotoUpload},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var role Role
	decodeBody(t, w, &role)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/roles/%d", f.companyID, role.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	// The same role is invisible through another company's path.
	other := createTestCompany(t, f.db, "rival")
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/roles/%d", other, role.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for cross-company read, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/roles/%d/permissions", f.companyID, role.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resolved struct {
		Permissions []int `json:"permissions"`
	}
	decodeBody(t, w, &resolved)
	assertPermissions(t, resolved.Permissions, []int{permissions.PermTaskCreate, permissions.PermPhotoUpload})
}

func TestHandlers_AssignAndCheck(t *testing.T) {
	f := setupHandlers(t)
	ctx := context.Background()

	role := &Role{CompanyID: f.companyID, Name: "crew", CustomPermissions: []int{permissions.PermTaskUpdate}}
	if err := f.store.CreateRole(ctx, 1, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/companies/%d/assignments", f.companyID), map[string]any{
		"user_id": 42,
		"role_id": role.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	check := map[string]any{
		"company_id":    f.companyID,
		"user_id":       42,
		"permission_id": permissions.PermTaskUpdate,
	}
	w = f.do(t, http.MethodPost, "/api/v1/authz/check", check)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decision Decision
	decodeBody(t, w, &decision)
	if !decision.Allowed {
		t.Errorf("Expected allow, got deny: %s", decision.Reason)
	}

	w = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/companies/%d/users/42/roles/%d", f.companyID, role.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/v1/authz/check", check)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	decodeBody(t, w, &decision)
	if decision.Allowed {
		t.Error("Expected deny after revoke")
	}

	// Revoking again is a 404.
	w = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/companies/%d/users/42/roles/%d", f.companyID, role.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on double revoke, got %d", w.Code)
	}
}

func TestHandlers_CheckUnknownPermission(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, http.MethodPost, "/api/v1/authz/check", map[string]any{
		"company_id":    f.companyID,
		"user_id":       42,
		"permission_id": 9999,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown permission id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlers_AttachRule(t *testing.T) {
	f := setupHandlers(t)
	ctx := context.Background()

	role := &Role{CompanyID: f.companyID, Name: "crew", CustomPermissions: []int{permissions.PermTaskUpdate}}
	if err := f.store.CreateRole(ctx, 1, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	path := fmt.Sprintf("/api/v1/companies/%d/roles/%d/permissions/%d/rule",
		f.companyID, role.ID, permissions.PermTaskUpdate)

	w := f.do(t, http.MethodPut, path, map[string]any{
		"rule": map[string]any{
			"op":        "eq",
			"attribute": "task.owner_id",
			"value":     "$subject.user_id",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var grant RolePermissionGrant
	decodeBody(t, w, &grant)
	if grant.Rule == nil || grant.Rule.Attribute != "task.owner_id" {
		t.Errorf("Expected stored ownership rule, got %+v", grant.Rule)
	}

	// Malformed rule never reaches the store.
	w = f.do(t, http.MethodPut, path, map[string]any{
		"rule": map[string]any{"op": "between"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown operator, got %d", w.Code)
	}
}

func TestHandlers_ProjectAssignmentFlow(t *testing.T) {
	f := setupHandlers(t)
	ctx := context.Background()

	role := &Role{CompanyID: f.companyID, Name: "sub", CustomPermissions: []int{}}
	if err := f.store.CreateRole(ctx, 1, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/companies/%d/projects/500/assignments", f.companyID), map[string]any{
		"user_id":     42,
		"role_id":     role.ID,
		"permissions": []int{permissions.PermSubTaskView, permissions.PermSubPhotoUpload},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/projects/500/users/42/permissions", f.companyID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Permissions []int `json:"permissions"`
	}
	decodeBody(t, w, &resp)
	assertPermissions(t, resp.Permissions, []int{permissions.PermSubTaskView, permissions.PermSubPhotoUpload})

	// Project-scoped check allows on the assigned project only.
	w = f.do(t, http.MethodPost, "/api/v1/authz/check", map[string]any{
		"company_id":    f.companyID,
		"user_id":       42,
		"permission_id": permissions.PermSubTaskView,
		"project_id":    500,
	})
	var decision Decision
	decodeBody(t, w, &decision)
	if !decision.Allowed {
		t.Errorf("Expected allow on project 500: %s", decision.Reason)
	}

	w = f.do(t, http.MethodPost, "/api/v1/authz/check", map[string]any{
		"company_id":    f.companyID,
		"user_id":       42,
		"permission_id": permissions.PermSubTaskView,
		"project_id":    501,
	})
	decodeBody(t, w, &decision)
	if decision.Allowed {
		t.Error("Expected deny on project 501")
	}
}

func TestHandlers_CompanyLifecycle(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, http.MethodPost, "/api/v1/companies", map[string]any{
		"name":   "BuildRight LLC",
		"status": companies.StatusActive,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var company companies.Company
	decodeBody(t, w, &company)
	if company.ID == 0 {
		t.Fatal("Expected company ID to be set")
	}

	w = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/companies/%d/status", company.ID), map[string]any{
		"status": "defunct",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/companies/%d/status", company.ID), map[string]any{
		"status": companies.StatusSuspended,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d", company.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	decodeBody(t, w, &company)
	if company.Status != companies.StatusSuspended {
		t.Errorf("Expected suspended, got %q", company.Status)
	}
}

func TestHandlers_EffectivePermissionsEndpoint(t *testing.T) {
	f := setupHandlers(t)
	ctx := context.Background()

	role := &Role{CompanyID: f.companyID, Name: "viewer", CustomPermissions: []int{permissions.PermScheduleView}}
	if err := f.store.CreateRole(ctx, 1, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if err := f.store.AssignRole(ctx, 1, &CompanyUserAssignment{CompanyID: f.companyID, UserID: 7, RoleID: role.ID, GrantedBy: 1}); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/users/7/permissions", f.companyID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap PermissionSnapshot
	decodeBody(t, w, &snap)
	assertPermissions(t, snap.Permissions, []int{permissions.PermScheduleView})
	if len(snap.RoleIDs) != 1 || snap.RoleIDs[0] != role.ID {
		t.Errorf("Expected contributing role %d, got %v", role.ID, snap.RoleIDs)
	}
}
