// Package permissions holds the immutable permission catalog.
//
// Every grantable action in the platform is a catalog entry with a numeric ID
// partitioned into fixed per-category ranges (platform, company, project
// manager, subcontractor, client). The catalog is compiled into the binary and
// loaded into a Registry at process start; there is no runtime write path, so
// adding or changing a permission is a deploy, not an API call.
//
// Role and grant write paths call Registry.Validate before persisting
// permission IDs, which is what keeps dangling IDs out of the stores.
package permissions
