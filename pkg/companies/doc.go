// Package companies manages tenants. A company is the isolation boundary for
// the whole authorization core: roles, assignments, grants, cache entries,
// and audit records are all scoped to one company, and cross-tenant
// references are rejected at write time.
package companies
