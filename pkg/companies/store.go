package companies

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store handles company persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a new company store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new company. The name is unique; a duplicate returns
// ErrConflict.
func (s *Store) Create(ctx context.Context, company *Company) error {
	if company.Status == "" {
		company.Status = StatusPending
	}

	query := `
		INSERT INTO companies (name, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, company.Name, company.Status).
		Scan(&company.ID, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("company %q: %w", company.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// Get retrieves a company by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Company, error) {
	query := `
		SELECT id, name, status, created_at, updated_at
		FROM companies
		WHERE id = $1
	`
	var company Company
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&company.ID,
		&company.Name,
		&company.Status,
		&company.CreatedAt,
		&company.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("company %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

// List returns all companies ordered by name.
func (s *Store) List(ctx context.Context) ([]Company, error) {
	query := `
		SELECT id, name, status, created_at, updated_at
		FROM companies
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var company Company
		if err := rows.Scan(
			&company.ID,
			&company.Name,
			&company.Status,
			&company.CreatedAt,
			&company.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		out = append(out, company)
	}
	return out, rows.Err()
}

// SetStatus transitions a company's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	query := `
		UPDATE companies
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update company status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("company %d: %w", id, ErrNotFound)
	}
	return nil
}

// isUniqueViolation reports whether the error is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
