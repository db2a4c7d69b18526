package shared

// Core platform permissions.
const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"
	PermUsersImport = "users.import"

	PermProfileView = "profile.view"
	PermReportsView = "reports.view"
)

// PermissionDefinition describes a built-in permission seeded into the catalog.
type PermissionDefinition struct {
	Name        string
	Description string
}

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []PermissionDefinition {
	return []PermissionDefinition{
		{Name: PermUsersView, Description: "View member records"},
		{Name: PermUsersCreate, Description: "Create member records"},
		{Name: PermUsersEdit, Description: "Edit member records"},
		{Name: PermUsersDelete, Description: "Delete member records"},
		{Name: PermUsersImport, Description: "Bulk import member records"},
		{Name: PermProfileView, Description: "View own profile"},
		{Name: PermReportsView, Description: "View reports"},
	}
}
