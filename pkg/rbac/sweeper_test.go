package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/girderhq/girder/pkg/abac"
	"github.com/girderhq/girder/pkg/permissions"
)

func TestSweeper_SweepExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	cache := &recordingCache{}
	store := newTestStore(t, db, cache)
	companyID := createTestCompany(t, db, "acme")

	role := &Role{CompanyID: companyID, Name: "temp", CustomPermissions: []int{permissions.PermTaskCreate}}
	if err := store.CreateRole(ctx, 1, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	expired := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	if err := store.AssignRole(ctx, 1, &CompanyUserAssignment{CompanyID: companyID, UserID: 10, RoleID: role.ID, GrantedBy: 1, ExpiresAt: &expired}); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if err := store.AssignRole(ctx, 1, &CompanyUserAssignment{CompanyID: companyID, UserID: 20, RoleID: role.ID, GrantedBy: 1, ExpiresAt: &future}); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	grant := &RolePermissionGrant{
		CompanyID:    companyID,
		RoleID:       role.ID,
		PermissionID: permissions.PermTaskCreate,
		Rule:         &abac.Rule{Op: abac.OpEq, Attribute: "task.owner_id", Value: "$subject.user_id"},
		ExpiresAt:    &expired,
	}
	if err := store.AttachRule(ctx, 1, grant); err != nil {
		t.Fatalf("AttachRule failed: %v", err)
	}
	cache.invalidated = nil

	sweeper := NewSweeper(db, cache, nil)
	swept, err := sweeper.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept != 2 {
		t.Errorf("Expected 2 swept rows, got %d", swept)
	}

	// The expired assignment row is now physically inactive.
	var active bool
	if err := db.QueryRow(`SELECT is_active FROM company_user_assignments WHERE user_id = 10`).Scan(&active); err != nil {
		t.Fatalf("Failed to read assignment: %v", err)
	}
	if active {
		t.Error("Expected expired assignment to be deactivated")
	}

	// The future-dated one is untouched.
	if err := db.QueryRow(`SELECT is_active FROM company_user_assignments WHERE user_id = 20`).Scan(&active); err != nil {
		t.Fatalf("Failed to read assignment: %v", err)
	}
	if !active {
		t.Error("Expected live assignment to stay active")
	}

	if !cache.sawKey(companyID, 10) {
		t.Error("Expected snapshot invalidation for swept user")
	}
	if cache.sawKey(companyID, 20) {
		t.Error("Did not expect invalidation for live assignment")
	}

	// A second sweep finds nothing.
	swept, err = sweeper.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("Second SweepExpired failed: %v", err)
	}
	if swept != 0 {
		t.Errorf("Expected idempotent sweep, got %d rows", swept)
	}
}
