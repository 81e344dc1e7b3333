package permissions

import (
	"fmt"
	"sort"
)

// Registry is the process-wide permission catalog. It is built once at startup
// and read-only afterwards, so lookups need no synchronization.
type Registry struct {
	byID map[int]Permission
}

// NewRegistry builds a registry from a catalog, rejecting duplicate IDs and
// IDs whose value falls outside their declared category's range.
func NewRegistry(catalog []Permission) (*Registry, error) {
	byID := make(map[int]Permission, len(catalog))
	for _, p := range catalog {
		if _, exists := byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate permission id %d", p.ID)
		}
		cat, ok := CategoryOf(p.ID)
		if !ok {
			return nil, fmt.Errorf("permission id %d outside all category ranges", p.ID)
		}
		if cat != p.Category {
			return nil, fmt.Errorf("permission id %d declared %s but falls in %s range", p.ID, p.Category, cat)
		}
		byID[p.ID] = p
	}
	return &Registry{byID: byID}, nil
}

// NewDefaultRegistry builds a registry from the built-in catalog.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Catalog())
	if err != nil {
		// The built-in catalog is compiled in; a bad entry is a programming
		// error caught by tests, not a runtime condition.
		panic(err)
	}
	return r
}

// Lookup returns the permission for an ID, or ErrNotFound.
func (r *Registry) Lookup(id int) (Permission, error) {
	p, ok := r.byID[id]
	if !ok {
		return Permission{}, fmt.Errorf("permission %d: %w", id, ErrNotFound)
	}
	return p, nil
}

// IsElevated reports whether the permission requires elevation. Unknown IDs
// report false.
func (r *Registry) IsElevated(id int) bool {
	p, ok := r.byID[id]
	return ok && p.RequiresElevation
}

// Validate checks that every ID exists in the catalog. Used by write paths
// before persisting role or grant permission sets.
func (r *Registry) Validate(ids []int) error {
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			return fmt.Errorf("permission %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

// All returns every catalog entry ordered by ID.
func (r *Registry) All() []Permission {
	out := make([]Permission, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
