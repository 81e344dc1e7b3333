package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/girderhq/girder/pkg/observability"
)

// migration is one versioned schema step. Versions apply in order inside a
// transaction each; a failed step leaves earlier versions committed.
type migration struct {
	version    int
	statements []string
}

var schemaMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS companies (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS role_templates (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				category TEXT NOT NULL,
				permission_set TEXT NOT NULL DEFAULT '[]',
				is_system_template BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS roles (
				id BIGSERIAL PRIMARY KEY,
				company_id BIGINT NOT NULL REFERENCES companies(id),
				name TEXT NOT NULL,
				template_id BIGINT REFERENCES role_templates(id),
				custom_permissions TEXT NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (company_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_roles_template ON roles(template_id)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS company_user_assignments (
				id BIGSERIAL PRIMARY KEY,
				company_id BIGINT NOT NULL REFERENCES companies(id),
				user_id BIGINT NOT NULL,
				role_id BIGINT NOT NULL REFERENCES roles(id),
				granted_by BIGINT NOT NULL,
				granted_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				UNIQUE (company_id, user_id, role_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_assignments_user ON company_user_assignments(company_id, user_id) WHERE is_active`,
			`CREATE INDEX IF NOT EXISTS idx_assignments_expiry ON company_user_assignments(expires_at) WHERE is_active AND expires_at IS NOT NULL`,
		},
	},
	{
		version: 4,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS role_permission_grants (
				id BIGSERIAL PRIMARY KEY,
				company_id BIGINT NOT NULL REFERENCES companies(id),
				role_id BIGINT NOT NULL REFERENCES roles(id),
				permission_id INTEGER NOT NULL,
				rule TEXT,
				expires_at TIMESTAMPTZ,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (company_id, role_id, permission_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_grants_lookup ON role_permission_grants(company_id, permission_id) WHERE is_active`,
		},
	},
	{
		version: 5,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS project_assignments (
				id BIGSERIAL PRIMARY KEY,
				company_id BIGINT NOT NULL REFERENCES companies(id),
				project_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				role_id BIGINT NOT NULL REFERENCES roles(id),
				permissions TEXT NOT NULL DEFAULT '[]',
				created_at TIMESTAMPTZ NOT NULL,
				UNIQUE (company_id, project_id, user_id, role_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_project_assignments_user ON project_assignments(company_id, project_id, user_id)`,
		},
	},
}

// Migrate brings the schema up to the current version. Safe to run on every
// startup; applied versions are tracked in schema_migrations and skipped.
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range schemaMigrations {
		applied, err := migrationApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		logger.WithField("version", m.version).Info("applied schema migration")
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return count > 0, nil
}
