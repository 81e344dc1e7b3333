package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger appends audit records to the audit_log table.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures the table
// exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	l := &DBLogger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL,
		actor_user_id BIGINT NOT NULL,
		action VARCHAR(100) NOT NULL,
		resource VARCHAR(50) NOT NULL,
		resource_id VARCHAR(255) NOT NULL,
		old_values JSONB,
		new_values JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_company_id ON audit_log(company_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource, resource_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Append inserts one record. Strictly additive: no update or delete path
// exists on this type.
func (l *DBLogger) Append(ctx context.Context, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var oldJSON, newJSON []byte
	var err error
	if record.OldValues != nil {
		if oldJSON, err = json.Marshal(record.OldValues); err != nil {
			return fmt.Errorf("failed to marshal old values: %w", err)
		}
	}
	if record.NewValues != nil {
		if newJSON, err = json.Marshal(record.NewValues); err != nil {
			return fmt.Errorf("failed to marshal new values: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (company_id, actor_user_id, action, resource, resource_id, old_values, new_values, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = l.db.QueryRowContext(ctx, query,
		record.CompanyID,
		record.ActorUserID,
		record.Action,
		record.Resource,
		record.ResourceID,
		nullableJSON(oldJSON),
		nullableJSON(newJSON),
		record.Timestamp,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close is a no-op; the logger does not own the DB handle.
func (l *DBLogger) Close() error { return nil }

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
