package permissions

import (
	"errors"
	"fmt"
)

// Category partitions the permission ID space by audience.
type Category string

const (
	CategoryPlatform       Category = "platform"
	CategoryCompany        Category = "company"
	CategoryProjectManager Category = "project_manager"
	CategorySubcontractor  Category = "subcontractor"
	CategoryClient         Category = "client"
)

// Fixed ID ranges per category. IDs are globally unique and immutable once
// published; changing the catalog requires a deploy.
const (
	PlatformRangeStart       = 1
	PlatformRangeEnd         = 19
	CompanyRangeStart        = 20
	CompanyRangeEnd          = 39
	ProjectManagerRangeStart = 40
	ProjectManagerRangeEnd   = 59
	SubcontractorRangeStart  = 60
	SubcontractorRangeEnd    = 79
	ClientRangeStart         = 80
	ClientRangeEnd           = 99
)

// ErrNotFound is returned when a permission ID is not in the registry.
var ErrNotFound = errors.New("permission not found")

// Permission is a single catalog entry: an action on a resource, identified by
// a numeric ID inside its category's range.
type Permission struct {
	ID                int      `json:"id"`
	Resource          string   `json:"resource"`
	Action            string   `json:"action"`
	Category          Category `json:"category"`
	RequiresElevation bool     `json:"requires_elevation"`
}

// String returns a string representation of the permission.
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s (%d)", p.Resource, p.Action, p.ID)
}

// CategoryOf derives the category of a permission ID from its range.
func CategoryOf(id int) (Category, bool) {
	switch {
	case id >= PlatformRangeStart && id <= PlatformRangeEnd:
		return CategoryPlatform, true
	case id >= CompanyRangeStart && id <= CompanyRangeEnd:
		return CategoryCompany, true
	case id >= ProjectManagerRangeStart && id <= ProjectManagerRangeEnd:
		return CategoryProjectManager, true
	case id >= SubcontractorRangeStart && id <= SubcontractorRangeEnd:
		return CategorySubcontractor, true
	case id >= ClientRangeStart && id <= ClientRangeEnd:
		return CategoryClient, true
	default:
		return "", false
	}
}
