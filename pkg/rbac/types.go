package rbac

import (
	"errors"
	"sort"
	"time"

	"github.com/girderhq/girder/pkg/abac"
	"github.com/girderhq/girder/pkg/permissions"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on uniqueness violations (role name per
	// company, template name).
	ErrConflict = errors.New("already exists")

	// ErrCrossTenant is returned when a write references entities from two
	// different companies. Rejected before any row is touched.
	ErrCrossTenant = errors.New("cross-tenant reference")
)

// RoleTemplate is a shared, company-agnostic permission bundle. Templates are
// living references: editing a template's permission set changes the
// effective permissions of every role that still points at it.
type RoleTemplate struct {
	ID               int64                `json:"id"`
	Name             string               `json:"name"`
	Category         permissions.Category `json:"category"`
	PermissionSet    []int                `json:"permission_set"`
	IsSystemTemplate bool                 `json:"is_system_template"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Role is a company-scoped role. Its effective permission set is
// template.PermissionSet ∪ CustomPermissions, resolved live at read time.
// A role without a template is defined purely by CustomPermissions.
type Role struct {
	ID                int64     `json:"id"`
	CompanyID         int64     `json:"company_id"`
	Name              string    `json:"name"`
	TemplateID        *int64    `json:"template_id,omitempty"`
	CustomPermissions []int     `json:"custom_permissions"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CompanyUserAssignment grants a role to a user inside a company. A user may
// hold multiple simultaneous assignments (different roles); the effective set
// is the union across all active, non-expired ones.
type CompanyUserAssignment struct {
	ID        int64      `json:"id"`
	CompanyID int64      `json:"company_id"`
	UserID    int64      `json:"user_id"`
	RoleID    int64      `json:"role_id"`
	GrantedBy int64      `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Expired reports whether the assignment has lapsed at the given instant.
// Expiry is evaluated at read time; rows are not swept eagerly.
func (a *CompanyUserAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// RolePermissionGrant attaches an attribute rule to one (role, permission)
// pair, narrowing an otherwise-granted permission. At most one grant exists
// per pair; attaching again replaces the prior rule.
type RolePermissionGrant struct {
	ID           int64      `json:"id"`
	CompanyID    int64      `json:"company_id"`
	RoleID       int64      `json:"role_id"`
	PermissionID int        `json:"permission_id"`
	Rule         *abac.Rule `json:"rule"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProjectAssignment scopes a user to a single project with an explicit
// permission list, without touching their company-wide roles.
type ProjectAssignment struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"company_id"`
	ProjectID   int64     `json:"project_id"`
	UserID      int64     `json:"user_id"`
	RoleID      int64     `json:"role_id"`
	Permissions []int     `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// PermissionSnapshot is the cached resolution result for one
// (company, user) pair: the base permission set before any ABAC filtering,
// plus the roles that contributed it. Advisory only; the stores are the
// source of truth and the snapshot can be discarded at any time.
type PermissionSnapshot struct {
	CompanyID   int64   `json:"company_id"`
	UserID      int64   `json:"user_id"`
	Permissions []int   `json:"permissions"`
	RoleIDs     []int64 `json:"role_ids"`

	// RoleSets maps each contributing role to its resolved permission set,
	// so rule-gated checks can test per-role membership without going back
	// to the store. May be nil on snapshots cached before it existed.
	RoleSets map[int64][]int `json:"role_sets,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Has reports membership of a permission ID in the snapshot's base set.
func (s *PermissionSnapshot) Has(permissionID int) bool {
	for _, id := range s.Permissions {
		if id == permissionID {
			return true
		}
	}
	return false
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// unionPermissions merges permission ID sets, collapsing duplicates and
// returning a sorted slice.
func unionPermissions(sets ...[]int) []int {
	seen := make(map[int]struct{})
	for _, set := range sets {
		for _, id := range set {
			seen[id] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
