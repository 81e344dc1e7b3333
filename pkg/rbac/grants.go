package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/girderhq/girder/pkg/abac"
	"github.com/girderhq/girder/pkg/audit"
)

// checkRoleTenant verifies that a role belongs to the given company. A role
// owned by another company returns ErrCrossTenant; a missing role returns
// ErrNotFound. Called before any write that references a role by ID.
func (s *Store) checkRoleTenant(ctx context.Context, companyID, roleID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT company_id FROM roles WHERE id = $1`, roleID).Scan(&owner)
	if err == sql.ErrNoRows {
		return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check role tenant: %w", err)
	}
	if owner != companyID {
		return fmt.Errorf("role %d belongs to another company: %w", roleID, ErrCrossTenant)
	}
	return nil
}

// AssignRole grants a role to a user within a company. Re-assigning an
// existing (company, user, role) triple is not an error: the row is
// reactivated and its expiry replaced with the new one.
func (s *Store) AssignRole(ctx context.Context, actorID int64, assignment *CompanyUserAssignment) error {
	if err := s.checkRoleTenant(ctx, assignment.CompanyID, assignment.RoleID); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO company_user_assignments (company_id, user_id, role_id, granted_by, granted_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (company_id, user_id, role_id) DO UPDATE
		SET granted_by = EXCLUDED.granted_by,
		    granted_at = EXCLUDED.granted_at,
		    expires_at = EXCLUDED.expires_at,
		    is_active = TRUE
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		assignment.CompanyID, assignment.UserID, assignment.RoleID,
		assignment.GrantedBy, now, assignment.ExpiresAt).
		Scan(&assignment.ID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	assignment.GrantedAt = now
	assignment.IsActive = true

	s.invalidateSnapshot(ctx, assignment.CompanyID, assignment.UserID)

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   assignment.CompanyID,
		ActorUserID: actorID,
		Action:      audit.ActionAssignmentGrant,
		Resource:    audit.ResourceAssignment,
		ResourceID:  strconv.FormatInt(assignment.ID, 10),
		NewValues: map[string]any{
			"user_id":    assignment.UserID,
			"role_id":    assignment.RoleID,
			"expires_at": assignment.ExpiresAt,
		},
	})
	return nil
}

// RevokeAssignment deactivates a role assignment. The row is kept for audit
// trails; only the active flag flips.
func (s *Store) RevokeAssignment(ctx context.Context, actorID, companyID, userID, roleID int64) error {
	query := `
		UPDATE company_user_assignments
		SET is_active = FALSE
		WHERE company_id = $1 AND user_id = $2 AND role_id = $3 AND is_active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, companyID, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("assignment for user %d role %d: %w", userID, roleID, ErrNotFound)
	}

	s.invalidateSnapshot(ctx, companyID, userID)

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   companyID,
		ActorUserID: actorID,
		Action:      audit.ActionAssignmentRevoke,
		Resource:    audit.ResourceAssignment,
		ResourceID:  fmt.Sprintf("%d/%d", userID, roleID),
		OldValues: map[string]any{
			"user_id": userID,
			"role_id": roleID,
		},
	})
	return nil
}

// ListActiveAssignments returns a user's live assignments within a company.
// Expiry is applied at read time: rows whose expires_at has passed are
// filtered out even if the sweeper has not deactivated them yet.
func (s *Store) ListActiveAssignments(ctx context.Context, companyID, userID int64) ([]CompanyUserAssignment, error) {
	query := `
		SELECT id, company_id, user_id, role_id, granted_by, granted_at, expires_at, is_active
		FROM company_user_assignments
		WHERE company_id = $1 AND user_id = $2 AND is_active = TRUE
		ORDER BY granted_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, companyID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []CompanyUserAssignment
	for rows.Next() {
		var a CompanyUserAssignment
		if err := rows.Scan(
			&a.ID, &a.CompanyID, &a.UserID, &a.RoleID,
			&a.GrantedBy, &a.GrantedAt, &a.ExpiresAt, &a.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if a.Expired(now) {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachRule attaches an attribute rule to one (role, permission) pair. At
// most one rule exists per pair; attaching again replaces the previous one.
// The permission must exist in the registry and the rule must be
// structurally valid.
func (s *Store) AttachRule(ctx context.Context, actorID int64, grant *RolePermissionGrant) error {
	if _, err := s.registry.Lookup(grant.PermissionID); err != nil {
		return fmt.Errorf("permission %d: %w", grant.PermissionID, err)
	}
	if err := s.checkRoleTenant(ctx, grant.CompanyID, grant.RoleID); err != nil {
		return err
	}
	if grant.Rule != nil {
		if err := grant.Rule.Validate(); err != nil {
			return fmt.Errorf("invalid rule: %w", err)
		}
	}

	var ruleJSON sql.NullString
	if grant.Rule != nil {
		data, err := grant.Rule.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal rule: %w", err)
		}
		ruleJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO role_permission_grants (company_id, role_id, permission_id, rule, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
		ON CONFLICT (company_id, role_id, permission_id) DO UPDATE
		SET rule = EXCLUDED.rule,
		    expires_at = EXCLUDED.expires_at,
		    is_active = TRUE,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		grant.CompanyID, grant.RoleID, grant.PermissionID,
		ruleJSON, grant.ExpiresAt, now, now).
		Scan(&grant.ID)
	if err != nil {
		return fmt.Errorf("failed to attach rule: %w", err)
	}
	grant.IsActive = true
	grant.UpdatedAt = now

	s.invalidateRoleHolders(ctx, grant.CompanyID, grant.RoleID)

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   grant.CompanyID,
		ActorUserID: actorID,
		Action:      audit.ActionRuleAttach,
		Resource:    audit.ResourceGrant,
		ResourceID:  strconv.FormatInt(grant.ID, 10),
		NewValues: map[string]any{
			"role_id":       grant.RoleID,
			"permission_id": grant.PermissionID,
			"rule":          grant.Rule,
			"expires_at":    grant.ExpiresAt,
		},
	})
	return nil
}

// GetGrant retrieves the rule grant for one (role, permission) pair.
func (s *Store) GetGrant(ctx context.Context, companyID, roleID int64, permissionID int) (*RolePermissionGrant, error) {
	query := `
		SELECT id, company_id, role_id, permission_id, rule, expires_at, is_active, created_at, updated_at
		FROM role_permission_grants
		WHERE company_id = $1 AND role_id = $2 AND permission_id = $3
	`
	row := s.db.QueryRowContext(ctx, query, companyID, roleID, permissionID)
	grant, err := scanGrant(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("grant for role %d permission %d: %w", roleID, permissionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// GetActiveGrants returns the live rule grants for a permission across a set
// of roles. Expired and deactivated grants are excluded at read time; a pair
// with an expired grant behaves as if no rule were ever attached.
func (s *Store) GetActiveGrants(ctx context.Context, companyID int64, roleIDs []int64, permissionID int) ([]RolePermissionGrant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := []any{companyID, permissionID}
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT id, company_id, role_id, permission_id, rule, expires_at, is_active, created_at, updated_at
		FROM role_permission_grants
		WHERE company_id = $1 AND permission_id = $2 AND is_active = TRUE
		  AND role_id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []RolePermissionGrant
	for rows.Next() {
		grant, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		if grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *grant)
	}
	return out, rows.Err()
}

func scanGrant(scan func(...any) error) (*RolePermissionGrant, error) {
	var grant RolePermissionGrant
	var ruleJSON sql.NullString
	err := scan(
		&grant.ID, &grant.CompanyID, &grant.RoleID, &grant.PermissionID,
		&ruleJSON, &grant.ExpiresAt, &grant.IsActive, &grant.CreatedAt, &grant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}
	if ruleJSON.Valid && ruleJSON.String != "" {
		rule, err := abac.Parse([]byte(ruleJSON.String))
		if err != nil {
			return nil, fmt.Errorf("failed to decode rule: %w", err)
		}
		grant.Rule = rule
	}
	return &grant, nil
}

// AssignToProject scopes a user to one project with an explicit permission
// list. Re-assigning the same (project, user, role) replaces the list.
func (s *Store) AssignToProject(ctx context.Context, actorID int64, assignment *ProjectAssignment) error {
	if err := s.registry.Validate(assignment.Permissions); err != nil {
		return fmt.Errorf("invalid permissions: %w", err)
	}
	if err := s.checkRoleTenant(ctx, assignment.CompanyID, assignment.RoleID); err != nil {
		return err
	}

	perms, err := encodePermissionList(assignment.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO project_assignments (company_id, project_id, user_id, role_id, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, project_id, user_id, role_id) DO UPDATE
		SET permissions = EXCLUDED.permissions
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		assignment.CompanyID, assignment.ProjectID, assignment.UserID,
		assignment.RoleID, perms, now).
		Scan(&assignment.ID)
	if err != nil {
		return fmt.Errorf("failed to assign to project: %w", err)
	}
	assignment.CreatedAt = now

	s.appendAudit(ctx, &audit.Record{
		CompanyID:   assignment.CompanyID,
		ActorUserID: actorID,
		Action:      audit.ActionProjectAssign,
		Resource:    audit.ResourceProject,
		ResourceID:  strconv.FormatInt(assignment.ID, 10),
		NewValues: map[string]any{
			"project_id":  assignment.ProjectID,
			"user_id":     assignment.UserID,
			"role_id":     assignment.RoleID,
			"permissions": assignment.Permissions,
		},
	})
	return nil
}

// GetProjectPermissions returns the union of a user's project-scoped
// permission lists for one project.
func (s *Store) GetProjectPermissions(ctx context.Context, companyID, projectID, userID int64) ([]int, error) {
	query := `
		SELECT permissions
		FROM project_assignments
		WHERE company_id = $1 AND project_id = $2 AND user_id = $3
	`
	rows, err := s.db.QueryContext(ctx, query, companyID, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project permissions: %w", err)
	}
	defer rows.Close()

	var sets [][]int
	for rows.Next() {
		var perms string
		if err := rows.Scan(&perms); err != nil {
			return nil, fmt.Errorf("failed to scan project permissions: %w", err)
		}
		set, err := decodePermissionList(perms)
		if err != nil {
			return nil, fmt.Errorf("failed to decode project permissions: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return unionPermissions(sets...), nil
}

// ListProjectAssignments returns every project assignment for one project.
func (s *Store) ListProjectAssignments(ctx context.Context, companyID, projectID int64) ([]ProjectAssignment, error) {
	query := `
		SELECT id, company_id, project_id, user_id, role_id, permissions, created_at
		FROM project_assignments
		WHERE company_id = $1 AND project_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, companyID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project assignments: %w", err)
	}
	defer rows.Close()

	var out []ProjectAssignment
	for rows.Next() {
		var a ProjectAssignment
		var perms string
		if err := rows.Scan(
			&a.ID, &a.CompanyID, &a.ProjectID, &a.UserID, &a.RoleID, &perms, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project assignment: %w", err)
		}
		if a.Permissions, err = decodePermissionList(perms); err != nil {
			return nil, fmt.Errorf("failed to decode project permissions: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// invalidateSnapshot drops one user's cached snapshot. Failures are logged,
// not surfaced; the TTL bounds staleness.
func (s *Store) invalidateSnapshot(ctx context.Context, companyID, userID int64) {
	if err := s.cache.Invalidate(ctx, companyID, userID); err != nil {
		s.logger.WithError(err).
			WithField("company_id", companyID).
			WithField("user_id", userID).
			Warn("snapshot invalidation failed")
	}
}
