package companies

import (
	"errors"
	"time"
)

// Status represents a company's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

var (
	// ErrNotFound is returned when a company does not exist.
	ErrNotFound = errors.New("company not found")

	// ErrConflict is returned when a company name is already taken.
	ErrConflict = errors.New("company already exists")
)

// Company is the tenant boundary. Every role, assignment, grant, cache entry,
// and audit record carries a company ID and never crosses it.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether permission checks may succeed for this tenant.
func (c *Company) IsActive() bool {
	return c.Status == StatusActive
}
