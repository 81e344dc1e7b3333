// Package rbac implements company-scoped roles, shared role templates, and
// effective-permission resolution.
//
// A role's permission set is the union of its template's current permission
// set and its own custom permissions, resolved live at read time. A user's
// effective set is the union across all active, non-expired role
// assignments, cached per (company, user) as a snapshot with a TTL
// backstop. Attribute rules attached to (role, permission) pairs narrow
// otherwise-granted permissions at check time and fail closed.
package rbac
