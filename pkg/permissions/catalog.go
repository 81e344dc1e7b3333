package permissions

// Well-known permission IDs. The numeric values are part of the persisted
// contract: roles and assignments store them directly, so they never change
// once published.
const (
	// Platform (1-19)
	PermCompanyCreate     = 1
	PermCompanySuspend    = 2
	PermCompanyReactivate = 3
	PermUserImpersonate   = 4
	PermCatalogView       = 5
	PermBillingManage     = 10
	PermReportExport      = 15

	// Company (20-39)
	PermProjectCreate    = 20
	PermProjectUpdate    = 21
	PermProjectDelete    = 22
	PermProjectArchive   = 23
	PermScheduleManage   = 24
	PermScheduleView     = 25
	PermTaskCreate       = 30
	PermTaskUpdate       = 31
	PermTaskAssign       = 32
	PermPhotoUpload      = 33
	PermPhotoDelete      = 34
	PermRoleManage       = 35
	PermMemberInvite     = 36
	PermMemberRemove     = 37
	PermAuditView        = 38
	PermClientMessage    = 39

	// Project manager (40-59)
	PermCrewAssign     = 40
	PermPunchListClose = 41
	PermChangeOrder    = 42
	PermBudgetView     = 43
	PermBudgetEdit     = 44
	PermInspectionLog  = 45

	// Subcontractor (60-79)
	PermSubTaskView     = 60
	PermSubTaskComplete = 61
	PermSubPhotoUpload  = 62
	PermSubScheduleView = 63

	// Client (80-99)
	PermClientProjectView = 80
	PermClientPhotoView   = 81
	PermClientApprove     = 82
	PermClientComment     = 83
)

// Catalog returns the built-in permission catalog. Loaded once at process
// start; there is no runtime write path.
func Catalog() []Permission {
	return []Permission{
		{ID: PermCompanyCreate, Resource: "company", Action: "create", Category: CategoryPlatform, RequiresElevation: true},
		{ID: PermCompanySuspend, Resource: "company", Action: "suspend", Category: CategoryPlatform, RequiresElevation: true},
		{ID: PermCompanyReactivate, Resource: "company", Action: "reactivate", Category: CategoryPlatform, RequiresElevation: true},
		{ID: PermUserImpersonate, Resource: "user", Action: "impersonate", Category: CategoryPlatform, RequiresElevation: true},
		{ID: PermCatalogView, Resource: "catalog", Action: "read", Category: CategoryPlatform},
		{ID: PermBillingManage, Resource: "billing", Action: "manage", Category: CategoryPlatform, RequiresElevation: true},
		{ID: PermReportExport, Resource: "report", Action: "export", Category: CategoryPlatform},

		{ID: PermProjectCreate, Resource: "project", Action: "create", Category: CategoryCompany},
		{ID: PermProjectUpdate, Resource: "project", Action: "update", Category: CategoryCompany},
		{ID: PermProjectDelete, Resource: "project", Action: "delete", Category: CategoryCompany, RequiresElevation: true},
		{ID: PermProjectArchive, Resource: "project", Action: "archive", Category: CategoryCompany},
		{ID: PermScheduleManage, Resource: "schedule", Action: "manage", Category: CategoryCompany},
		{ID: PermScheduleView, Resource: "schedule", Action: "read", Category: CategoryCompany},
		{ID: PermTaskCreate, Resource: "task", Action: "create", Category: CategoryCompany},
		{ID: PermTaskUpdate, Resource: "task", Action: "update", Category: CategoryCompany},
		{ID: PermTaskAssign, Resource: "task", Action: "assign", Category: CategoryCompany},
		{ID: PermPhotoUpload, Resource: "photo", Action: "upload", Category: CategoryCompany},
		{ID: PermPhotoDelete, Resource: "photo", Action: "delete", Category: CategoryCompany},
		{ID: PermRoleManage, Resource: "role", Action: "manage", Category: CategoryCompany, RequiresElevation: true},
		{ID: PermMemberInvite, Resource: "member", Action: "invite", Category: CategoryCompany},
		{ID: PermMemberRemove, Resource: "member", Action: "remove", Category: CategoryCompany, RequiresElevation: true},
		{ID: PermAuditView, Resource: "audit", Action: "read", Category: CategoryCompany},
		{ID: PermClientMessage, Resource: "message", Action: "send", Category: CategoryCompany},

		{ID: PermCrewAssign, Resource: "crew", Action: "assign", Category: CategoryProjectManager},
		{ID: PermPunchListClose, Resource: "punch_list", Action: "close", Category: CategoryProjectManager},
		{ID: PermChangeOrder, Resource: "change_order", Action: "create", Category: CategoryProjectManager},
		{ID: PermBudgetView, Resource: "budget", Action: "read", Category: CategoryProjectManager},
		{ID: PermBudgetEdit, Resource: "budget", Action: "update", Category: CategoryProjectManager, RequiresElevation: true},
		{ID: PermInspectionLog, Resource: "inspection", Action: "log", Category: CategoryProjectManager},

		{ID: PermSubTaskView, Resource: "task", Action: "read", Category: CategorySubcontractor},
		{ID: PermSubTaskComplete, Resource: "task", Action: "complete", Category: CategorySubcontractor},
		{ID: PermSubPhotoUpload, Resource: "photo", Action: "upload", Category: CategorySubcontractor},
		{ID: PermSubScheduleView, Resource: "schedule", Action: "read", Category: CategorySubcontractor},

		{ID: PermClientProjectView, Resource: "project", Action: "read", Category: CategoryClient},
		{ID: PermClientPhotoView, Resource: "photo", Action: "read", Category: CategoryClient},
		{ID: PermClientApprove, Resource: "approval", Action: "grant", Category: CategoryClient},
		{ID: PermClientComment, Resource: "comment", Action: "create", Category: CategoryClient},
	}
}
