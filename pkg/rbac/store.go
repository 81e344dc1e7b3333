package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/girderhq/girder/pkg/audit"
	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/permissions"
)

// Store handles role template and role persistence. All role reads and
// writes are scoped by company ID; templates are shared across companies.
type Store struct {
	db       *sql.DB
	registry *permissions.Registry
	cache    SnapshotCache
	audit    audit.Logger
	logger   *observability.Logger
}

// NewStore creates a role store. A nil cache or audit logger is replaced
// with a no-op implementation.
func NewStore(db *sql.DB, registry *permissions.Registry, cache SnapshotCache, auditLogger audit.Logger, logger *observability.Logger) *Store {
	if cache == nil {
		cache = NopCache{}
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Store{
		db:       db,
		registry: registry,
		cache:    cache,
		audit:    auditLogger,
		logger:   logger,
	}
}

// CreateTemplate inserts a shared role template. Template names are unique;
// a duplicate returns ErrConflict. Every permission ID must exist in the
// registry.
func (s *Store) CreateTemplate(ctx context.Context, actorID int64, template *RoleTemplate) error {
	if err := s.registry.Validate(template.PermissionSet); err != nil {
		return fmt.Errorf("invalid permission set: %w", err)
	}

	permSet, err := encodePermissionList(template.PermissionSet)
	if err != nil {
		return fmt.Errorf("failed to encode permission set: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO role_templates (name, category, permission_set, is_system_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		template.Name, template.Category, permSet, template.IsSystemTemplate, now, now).
		Scan(&template.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("template %q: %w", template.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	template.CreatedAt = now
	template.UpdatedAt = now

	s.appendAudit(ctx, &audit.Record{
		ActorUserID: actorID,
		Action:      audit.ActionTemplateCreate,
		Resource:    audit.ResourceTemplate,
		ResourceID:  strconv.FormatInt(template.ID, 10),
		NewValues: map[string]any{
			"name":           template.Name,
			"category":       template.Category,
			"permission_set": template.PermissionSet,
		},
	})
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*RoleTemplate, error) {
	query := `
		SELECT id, name, category, permission_set, is_system_template, created_at, updated_at
		FROM role_templates
		WHERE id = $1
	`
	return s.scanTemplate(s.db.QueryRowContext(ctx, query, id), id)
}

func (s *Store) scanTemplate(row *sql.Row, id int64) (*RoleTemplate, error) {
	var template RoleTemplate
	var permSet string
	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Category,
		&permSet,
		&template.IsSystemTemplate,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if template.PermissionSet, err = decodePermissionList(permSet); err != nil {
		return nil, fmt.Errorf("failed to decode permission set: %w", err)
	}
	return &template, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	query := `
		SELECT id, name, category, permission_set, is_system_template, created_at, updated_at
		FROM role_templates
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []RoleTemplate
	for rows.Next() {
		var template RoleTemplate
		var permSet string
		if err := rows.Scan(
			&template.ID,
			&template.Name,
			&template.Category,
			&permSet,
			&template.IsSystemTemplate,
			&template.CreatedAt,
			&template.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		if template.PermissionSet, err = decodePermissionList(permSet); err != nil {
			return nil, fmt.Errorf("failed to decode permission set: %w", err)
		}
		out = append(out, template)
	}
	return out, rows.Err()
}

// UpdateTemplate replaces a template's permission set and name. The change
// propagates immediately: every user holding a role that references this
// template gets their cached snapshot invalidated.
func (s *Store) UpdateTemplate(ctx context.Context, actorID int64, template *RoleTemplate) error {
	if err := s.registry.Validate(template.PermissionSet); err != nil {
		return fmt.Errorf("invalid permission set: %w", err)
	}

	prev, err := s.GetTemplate(ctx, template.ID)
	if err != nil {
		return err
	}

	permSet, err := encodePermissionList(template.PermissionSet)
	if err != nil {
		return fmt.Errorf("failed to encode permission set: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE role_templates
		SET name = $1, category = $2, permission_set = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		template.Name, template.Category, permSet, now, template.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %d: %w", template.ID, ErrNotFound)
	}
	template.UpdatedAt = now

	s.invalidateTemplateHolders(ctx, template.ID)

	s.appendAudit(ctx, &audit.Record{
		ActorUserID: actorID,
		Action:      audit.ActionTemplateUpdate,
		Resource:    audit.ResourceTemplate,
		ResourceID:  strconv.FormatInt(template.ID, 10),
		OldValues: map[string]any{
			"name":           prev.Name,
			"permission_set": prev.PermissionSet,
		},
		NewValues: map[string]any{
			"name":           template.Name,
			"permission_set": template.PermissionSet,
		},
	})
	return nil
}

// CreateRole inserts a company-scoped role. Role names are unique within a
// company; a duplicate returns ErrConflict. A referenced template must
// exist, and every custom permission ID must exist in the registry.
func (s *Store) CreateRole(ctx context.Context, actorID int64, role *Role) error {
	if err := s.registry.Validate(role.CustomPermissions); err != nil {
		return fmt.Errorf("invalid custom permissions: %w", err)
	}
	if role.TemplateID != nil {
		if _, err := s.GetTemplate(ctx, *role.TemplateID); err != nil {
			return err
		}
	}

	custom, err := encodePermissionList(role.CustomPermissions)
	if err != nil {
		return fmt.Errorf("failed to encode custom permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO roles (company_id, name, template_id, custom_permissions, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (company_id, name) DO NOTHING
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		role.CompanyID, role.Name, role.TemplateID, custom, now, now).
		Scan(&role.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("role %q in company %d: %w", role.Name, role.CompanyID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.IsActive = true
	role.CreatedAt = now
	role.UpdatedAt = now

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   role.CompanyID,
		ActorUserID: actorID,
		Action:      audit.ActionRoleCreate,
		Resource:    audit.ResourceRole,
		ResourceID:  strconv.FormatInt(role.ID, 10),
		NewValues: map[string]any{
			"name":               role.Name,
			"template_id":        role.TemplateID,
			"custom_permissions": role.CustomPermissions,
		},
	})
	return nil
}

// GetRole retrieves a role. The lookup is tenant-scoped: a role ID
// belonging to another company returns ErrNotFound, not the row.
func (s *Store) GetRole(ctx context.Context, companyID, roleID int64) (*Role, error) {
	query := `
		SELECT id, company_id, name, template_id, custom_permissions, is_active, created_at, updated_at
		FROM roles
		WHERE id = $1 AND company_id = $2
	`
	var role Role
	var custom string
	err := s.db.QueryRowContext(ctx, query, roleID, companyID).Scan(
		&role.ID,
		&role.CompanyID,
		&role.Name,
		&role.TemplateID,
		&custom,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if role.CustomPermissions, err = decodePermissionList(custom); err != nil {
		return nil, fmt.Errorf("failed to decode custom permissions: %w", err)
	}
	return &role, nil
}

// ListRoles returns all roles belonging to a company, ordered by name.
func (s *Store) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	query := `
		SELECT id, company_id, name, template_id, custom_permissions, is_active, created_at, updated_at
		FROM roles
		WHERE company_id = $1
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var role Role
		var custom string
		if err := rows.Scan(
			&role.ID,
			&role.CompanyID,
			&role.Name,
			&role.TemplateID,
			&custom,
			&role.IsActive,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if role.CustomPermissions, err = decodePermissionList(custom); err != nil {
			return nil, fmt.Errorf("failed to decode custom permissions: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// UpdateRole replaces a role's name, template reference, custom permissions
// and active flag. Cached snapshots of every user holding the role are
// invalidated after the write.
func (s *Store) UpdateRole(ctx context.Context, actorID int64, role *Role) error {
	if err := s.registry.Validate(role.CustomPermissions); err != nil {
		return fmt.Errorf("invalid custom permissions: %w", err)
	}
	if role.TemplateID != nil {
		if _, err := s.GetTemplate(ctx, *role.TemplateID); err != nil {
			return err
		}
	}

	prev, err := s.GetRole(ctx, role.CompanyID, role.ID)
	if err != nil {
		return err
	}

	custom, err := encodePermissionList(role.CustomPermissions)
	if err != nil {
		return fmt.Errorf("failed to encode custom permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE roles
		SET name = $1, template_id = $2, custom_permissions = $3, is_active = $4, updated_at = $5
		WHERE id = $6 AND company_id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		role.Name, role.TemplateID, custom, role.IsActive, now, role.ID, role.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role %d: %w", role.ID, ErrNotFound)
	}
	role.UpdatedAt = now

	s.invalidateRoleHolders(ctx, role.CompanyID, role.ID)

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   role.CompanyID,
		ActorUserID: actorID,
		Action:      audit.ActionRoleUpdate,
		Resource:    audit.ResourceRole,
		ResourceID:  strconv.FormatInt(role.ID, 10),
		OldValues: map[string]any{
			"name":               prev.Name,
			"template_id":        prev.TemplateID,
			"custom_permissions": prev.CustomPermissions,
			"is_active":          prev.IsActive,
		},
		NewValues: map[string]any{
			"name":               role.Name,
			"template_id":        role.TemplateID,
			"custom_permissions": role.CustomPermissions,
			"is_active":          role.IsActive,
		},
	})
	return nil
}

// ResolveRolePermissions computes a role's effective permission set: the
// referenced template's current permission set unioned with the role's
// custom permissions. The template is read live, so template edits are
// visible without touching the role row. An inactive role contributes
// nothing.
func (s *Store) ResolveRolePermissions(ctx context.Context, companyID, roleID int64) ([]int, error) {
	role, err := s.GetRole(ctx, companyID, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return []int{}, nil
	}

	var templateSet []int
	if role.TemplateID != nil {
		template, err := s.GetTemplate(ctx, *role.TemplateID)
		if err != nil {
			return nil, err
		}
		templateSet = template.PermissionSet
	}
	return unionPermissions(templateSet, role.CustomPermissions), nil
}

// GetRolesByTemplate returns the IDs of all roles referencing a template,
// across all companies.
func (s *Store) GetRolesByTemplate(ctx context.Context, templateID int64) ([]int64, error) {
	query := `SELECT id FROM roles WHERE template_id = $1`
	rows, err := s.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles by template: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// invalidateTemplateHolders drops the cached snapshot of every user who
// holds any role referencing the template, in any company. Runs after the
// template write commits; a cache failure is logged, never surfaced, since
// the TTL bounds staleness.
func (s *Store) invalidateTemplateHolders(ctx context.Context, templateID int64) {
	query := `
		SELECT DISTINCT a.company_id, a.user_id
		FROM company_user_assignments a
		JOIN roles r ON r.id = a.role_id AND r.company_id = a.company_id
		WHERE r.template_id = $1 AND a.is_active = TRUE AND r.is_active = TRUE
	`
	s.invalidateByQuery(ctx, query, templateID)
}

// invalidateRoleHolders drops the cached snapshot of every user holding
// one role.
func (s *Store) invalidateRoleHolders(ctx context.Context, companyID, roleID int64) {
	query := `
		SELECT DISTINCT company_id, user_id
		FROM company_user_assignments
		WHERE company_id = $1 AND role_id = $2 AND is_active = TRUE
	`
	s.invalidateByQuery(ctx, query, companyID, roleID)
}

func (s *Store) invalidateByQuery(ctx context.Context, query string, args ...any) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.WithError(err).Warn("failed to enumerate snapshot holders for invalidation")
		return
	}
	defer rows.Close()

	var keys []SnapshotKey
	for rows.Next() {
		var key SnapshotKey
		if err := rows.Scan(&key.CompanyID, &key.UserID); err != nil {
			s.logger.WithError(err).Warn("failed to scan snapshot holder")
			return
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.InvalidateMany(ctx, keys); err != nil {
		s.logger.WithError(err).WithField("keys", len(keys)).Warn("snapshot fan-out invalidation failed")
	}
}

// appendAudit records a mutation. Audit failures are logged and swallowed;
// the mutation has already committed and must not be reported as failed.
func (s *Store) appendAudit(ctx context.Context, record *audit.Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.WithError(err).WithField("action", string(record.Action)).Error("failed to append audit record")
	}
}

// encodePermissionList serializes a permission ID set as a JSON array for
// storage in a text column. nil encodes as the empty set.
func encodePermissionList(ids []int) (string, error) {
	if ids == nil {
		ids = []int{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePermissionList(data string) ([]int, error) {
	if data == "" {
		return []int{}, nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
