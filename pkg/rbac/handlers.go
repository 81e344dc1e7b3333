package rbac

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/girderhq/girder/pkg/abac"
	"github.com/girderhq/girder/pkg/companies"
	"github.com/girderhq/girder/pkg/httputil"
	"github.com/girderhq/girder/pkg/middleware"
	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/permissions"
)

// Handlers exposes the admin CRUD surface and the authorization check
// endpoints. The administration UI is a pure client of these routes; all
// authorization logic lives in the resolver.
type Handlers struct {
	store     *Store
	companies *companies.Store
	resolver  *Resolver
	logger    *observability.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(store *Store, companyStore *companies.Store, resolver *Resolver, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		store:     store,
		companies: companyStore,
		resolver:  resolver,
		logger:    logger,
	}
}

// RegisterRoutes registers all routes on the given router, which is expected
// to be the /api/v1 subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Companies
	router.HandleFunc("/companies", h.CreateCompany).Methods("POST")
	router.HandleFunc("/companies", h.ListCompanies).Methods("GET")
	router.HandleFunc("/companies/{companyID}", h.GetCompany).Methods("GET")
	router.HandleFunc("/companies/{companyID}/status", h.SetCompanyStatus).Methods("PUT")

	// Templates (company-agnostic)
	router.HandleFunc("/templates", h.CreateTemplate).Methods("POST")
	router.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	router.HandleFunc("/templates/{templateID}", h.GetTemplate).Methods("GET")
	router.HandleFunc("/templates/{templateID}", h.UpdateTemplate).Methods("PUT")

	// Roles
	router.HandleFunc("/companies/{companyID}/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/companies/{companyID}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/companies/{companyID}/roles/{roleID}", h.GetRole).Methods("GET")
	router.HandleFunc("/companies/{companyID}/roles/{roleID}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/companies/{companyID}/roles/{roleID}/permissions", h.ResolveRolePermissions).Methods("GET")

	// Assignments
	router.HandleFunc("/companies/{companyID}/assignments", h.AssignRole).Methods("POST")
	router.HandleFunc("/companies/{companyID}/users/{userID}/roles/{roleID}", h.RevokeAssignment).Methods("DELETE")
	router.HandleFunc("/companies/{companyID}/users/{userID}/assignments", h.ListAssignments).Methods("GET")

	// Attribute rules
	router.HandleFunc("/companies/{companyID}/roles/{roleID}/permissions/{permissionID}/rule", h.AttachRule).Methods("PUT")
	router.HandleFunc("/companies/{companyID}/roles/{roleID}/permissions/{permissionID}/rule", h.GetRule).Methods("GET")

	// Project-scoped assignments
	router.HandleFunc("/companies/{companyID}/projects/{projectID}/assignments", h.AssignToProject).Methods("POST")
	router.HandleFunc("/companies/{companyID}/projects/{projectID}/assignments", h.ListProjectAssignments).Methods("GET")
	router.HandleFunc("/companies/{companyID}/projects/{projectID}/users/{userID}/permissions", h.GetProjectPermissions).Methods("GET")

	// Authorization
	router.HandleFunc("/companies/{companyID}/users/{userID}/permissions", h.GetEffectivePermissions).Methods("GET")
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
}

// writeStoreError maps store errors to HTTP status codes. Cross-tenant
// references are reported as not found so one tenant cannot probe another's
// role IDs.
func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConflict) || errors.Is(err, companies.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrNotFound) || errors.Is(err, companies.ErrNotFound) || errors.Is(err, ErrCrossTenant):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, permissions.ErrNotFound) || errors.Is(err, abac.ErrInvalidRule):
		httputil.WriteBadRequest(w, err.Error())
	default:
		h.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromRequest(r)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing caller identity")
	}
	return id, ok
}

// CreateCompany registers a new tenant.
func (h *Handlers) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string           `json:"name"`
		Status companies.Status `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	company := &companies.Company{Name: req.Name, Status: req.Status}
	if err := h.companies.Create(r.Context(), company); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, company)
}

// ListCompanies returns all tenants.
func (h *Handlers) ListCompanies(w http.ResponseWriter, r *http.Request) {
	out, err := h.companies.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// GetCompany returns one tenant.
func (h *Handlers) GetCompany(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	company, err := h.companies.Get(r.Context(), companyID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, company)
}

// SetCompanyStatus transitions a tenant between active, suspended, and
// pending. Suspension takes effect on the next permission check.
func (h *Handlers) SetCompanyStatus(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	var req struct {
		Status companies.Status `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Status {
	case companies.StatusActive, companies.StatusSuspended, companies.StatusPending:
	default:
		httputil.WriteBadRequest(w, "status must be active, suspended, or pending")
		return
	}

	if err := h.companies.SetStatus(r.Context(), companyID, req.Status); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateTemplate creates a shared role template.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Name             string               `json:"name"`
		Category         permissions.Category `json:"category"`
		PermissionSet    []int                `json:"permission_set"`
		IsSystemTemplate bool                 `json:"is_system_template"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	template := &RoleTemplate{
		Name:             req.Name,
		Category:         req.Category,
		PermissionSet:    req.PermissionSet,
		IsSystemTemplate: req.IsSystemTemplate,
	}
	if err := h.store.CreateTemplate(r.Context(), actor.UserID, template); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, template)
}

// ListTemplates returns all templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ListTemplates(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// GetTemplate returns one template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := httputil.ParsePathInt64OrError(w, r, "templateID")
	if !ok {
		return
	}
	template, err := h.store.GetTemplate(r.Context(), templateID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, template)
}

// UpdateTemplate replaces a template's name and permission set. The edit
// fans out to every company with a role referencing the template.
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	templateID, ok := httputil.ParsePathInt64OrError(w, r, "templateID")
	if !ok {
		return
	}
	var req struct {
		Name          string               `json:"name"`
		Category      permissions.Category `json:"category"`
		PermissionSet []int                `json:"permission_set"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	template := &RoleTemplate{
		ID:            templateID,
		Name:          req.Name,
		Category:      req.Category,
		PermissionSet: req.PermissionSet,
	}
	if err := h.store.UpdateTemplate(r.Context(), actor.UserID, template); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, template)
}

// CreateRole creates a company-scoped role.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	var req struct {
		Name              string `json:"name"`
		TemplateID        *int64 `json:"template_id"`
		CustomPermissions []int  `json:"custom_permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &Role{
		CompanyID:         companyID,
		Name:              req.Name,
		TemplateID:        req.TemplateID,
		CustomPermissions: req.CustomPermissions,
		IsActive:          true,
	}
	if err := h.store.CreateRole(r.Context(), actor.UserID, role); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles returns a company's roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	out, err := h.store.ListRoles(r.Context(), companyID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// GetRole returns one role, scoped to the company in the path.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), companyID, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole replaces a role's name, template, custom permissions, and
// active flag.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	var req struct {
		Name              string `json:"name"`
		TemplateID        *int64 `json:"template_id"`
		CustomPermissions []int  `json:"custom_permissions"`
		IsActive          bool   `json:"is_active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &Role{
		ID:                roleID,
		CompanyID:         companyID,
		Name:              req.Name,
		TemplateID:        req.TemplateID,
		CustomPermissions: req.CustomPermissions,
		IsActive:          req.IsActive,
	}
	if err := h.store.UpdateRole(r.Context(), actor.UserID, role); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// ResolveRolePermissions returns a role's current effective permission set
// (template union custom, read live).
func (h *Handlers) ResolveRolePermissions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.store.ResolveRolePermissions(r.Context(), companyID, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{
		"role_id":     roleID,
		"permissions": perms,
	})
}

// AssignRole grants a role to a user. Re-granting the same role refreshes
// the expiry instead of duplicating the assignment.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	var req struct {
		UserID    int64      `json:"user_id"`
		RoleID    int64      `json:"role_id"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "user_id and role_id are required")
		return
	}

	assignment := &CompanyUserAssignment{
		CompanyID: companyID,
		UserID:    req.UserID,
		RoleID:    req.RoleID,
		GrantedBy: actor.UserID,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.store.AssignRole(r.Context(), actor.UserID, assignment); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, assignment)
}

// RevokeAssignment deactivates a user's role assignment.
func (h *Handlers) RevokeAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.store.RevokeAssignment(r.Context(), actor.UserID, companyID, userID, roleID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListAssignments returns a user's active, non-expired role assignments.
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	out, err := h.store.ListActiveAssignments(r.Context(), companyID, userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// AttachRule attaches an attribute rule to a (role, permission) pair,
// replacing any existing rule for the pair.
func (h *Handlers) AttachRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionID")
	if !ok {
		return
	}
	var req struct {
		Rule      json.RawMessage `json:"rule"`
		ExpiresAt *time.Time      `json:"expires_at"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var rule *abac.Rule
	if len(req.Rule) > 0 && string(req.Rule) != "null" {
		var err error
		if rule, err = abac.Parse(req.Rule); err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	}

	grant := &RolePermissionGrant{
		CompanyID:    companyID,
		RoleID:       roleID,
		PermissionID: int(permissionID),
		Rule:         rule,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := h.store.AttachRule(r.Context(), actor.UserID, grant); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// GetRule returns the attribute rule attached to a (role, permission) pair.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionID")
	if !ok {
		return
	}
	grant, err := h.store.GetGrant(r.Context(), companyID, roleID, int(permissionID))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// AssignToProject scopes a user to a project with an explicit permission
// list.
func (h *Handlers) AssignToProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectID")
	if !ok {
		return
	}
	var req struct {
		UserID      int64 `json:"user_id"`
		RoleID      int64 `json:"role_id"`
		Permissions []int `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "user_id and role_id are required")
		return
	}

	assignment := &ProjectAssignment{
		CompanyID:   companyID,
		ProjectID:   projectID,
		UserID:      req.UserID,
		RoleID:      req.RoleID,
		Permissions: req.Permissions,
	}
	if err := h.store.AssignToProject(r.Context(), actor.UserID, assignment); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, assignment)
}

// ListProjectAssignments returns all assignments on a project.
func (h *Handlers) ListProjectAssignments(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectID")
	if !ok {
		return
	}
	out, err := h.store.ListProjectAssignments(r.Context(), companyID, projectID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// GetProjectPermissions returns the union of a user's project-scoped
// permission lists for one project.
func (h *Handlers) GetProjectPermissions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	perms, err := h.store.GetProjectPermissions(r.Context(), companyID, projectID, userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{
		"project_id":  projectID,
		"user_id":     userID,
		"permissions": perms,
	})
}

// GetEffectivePermissions returns the user's resolved company-wide
// permission snapshot.
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := httputil.ParsePathInt64OrError(w, r, "companyID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	snapshot, err := h.resolver.GetEffectivePermissions(r.Context(), companyID, userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, snapshot)
}

// CheckRequest is the body of POST /authz/check.
type CheckRequest struct {
	CompanyID    int64          `json:"company_id"`
	UserID       int64          `json:"user_id"`
	PermissionID int            `json:"permission_id"`
	ProjectID    *int64         `json:"project_id,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Check evaluates one permission check and returns the decision. A deny is
// still a 200; non-2xx means the check itself could not be evaluated.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CompanyID <= 0 || req.UserID <= 0 || req.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "company_id, user_id, and permission_id are required")
		return
	}

	var decision *Decision
	var err error
	if req.ProjectID != nil {
		decision, err = h.resolver.CheckProjectPermission(r.Context(),
			req.CompanyID, *req.ProjectID, req.UserID, req.PermissionID, req.Attributes)
	} else {
		decision, err = h.resolver.CheckPermission(r.Context(),
			req.CompanyID, req.UserID, req.PermissionID, req.Attributes)
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}
