// Package audit records every mutation to roles, templates, grants, and
// assignments as an append-only trail.
//
// The public contract is Append only: records are never updated or deleted
// by the application. Each record captures the acting user, the affected
// resource, and the before/after values. Reading the trail for compliance
// review is a separate query surface outside this package.
package audit
