package audit

import (
	"encoding/json"
	"time"
)

// Action identifies what kind of mutation produced a record.
type Action string

const (
	ActionTemplateCreate   Action = "template.create"
	ActionTemplateUpdate   Action = "template.update"
	ActionRoleCreate       Action = "role.create"
	ActionRoleUpdate       Action = "role.update"
	ActionAssignmentGrant  Action = "assignment.grant"
	ActionAssignmentRevoke Action = "assignment.revoke"
	ActionRuleAttach       Action = "rule.attach"
	ActionProjectAssign    Action = "project.assign"
	ActionCompanyCreate    Action = "company.create"
	ActionCompanyStatus    Action = "company.status"
)

// Resource identifies the entity type a record refers to.
type Resource string

const (
	ResourceTemplate   Resource = "role_template"
	ResourceRole       Resource = "role"
	ResourceAssignment Resource = "assignment"
	ResourceGrant      Resource = "permission_grant"
	ResourceProject    Resource = "project_assignment"
	ResourceCompany    Resource = "company"
)

// Record is one append-only audit entry. Every mutation to roles, templates,
// grants, or assignments produces exactly one record; the application never
// updates or deletes them.
type Record struct {
	ID          int64          `json:"id"`
	CompanyID   int64          `json:"company_id"`
	ActorUserID int64          `json:"actor_user_id"`
	Action      Action         `json:"action"`
	Resource    Resource       `json:"resource"`
	ResourceID  string         `json:"resource_id"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ToJSON serializes the record.
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
