package lifecycle

// Role groups used by the default table.
var (
	taskLeads   = []Role{RoleAdmin, RoleProjectManager, RoleTeamLeader}
	taskWorkers = []Role{RoleAdmin, RoleProjectManager, RoleTeamLeader, RoleTeamMember}

	projectOwners   = []Role{RoleAdmin, RoleDepartmentManager, RoleProjectManager}
	projectSponsors = []Role{RoleAdmin, RoleDepartmentManager}
	projectDelivery = []Role{RoleAdmin, RoleProjectManager}
	adminsOnly      = []Role{RoleAdmin}
)

// DefaultEdges is the shipped transition table. Terminal states are the
// ones that never appear as From.
var DefaultEdges = []EdgeDef{
	// Task
	{Kind: KindTask, From: TaskBacklog, To: TaskInAnalysis, Roles: taskLeads},
	{Kind: KindTask, From: TaskBacklog, To: TaskCancelled, Roles: taskLeads, RequireReason: true},

	{Kind: KindTask, From: TaskInAnalysis, To: TaskBacklog, Roles: taskLeads},
	{Kind: KindTask, From: TaskInAnalysis, To: TaskInProgress, Roles: taskWorkers},
	{Kind: KindTask, From: TaskInAnalysis, To: TaskCancelled, Roles: taskLeads, RequireReason: true},

	{Kind: KindTask, From: TaskInProgress, To: TaskInAnalysis, Roles: taskLeads},
	{Kind: KindTask, From: TaskInProgress, To: TaskBlocked, Roles: taskWorkers, RequireReason: true},
	{Kind: KindTask, From: TaskInProgress, To: TaskCancelled, Roles: taskLeads, RequireReason: true},
	{Kind: KindTask, From: TaskInProgress, To: TaskCompleted, Roles: taskWorkers},

	{Kind: KindTask, From: TaskBlocked, To: TaskInProgress, Roles: taskWorkers},
	{Kind: KindTask, From: TaskBlocked, To: TaskCancelled, Roles: taskLeads, RequireReason: true},

	// Project
	{Kind: KindProject, From: ProjectPending, To: ProjectPlanning, Roles: projectOwners},
	{Kind: KindProject, From: ProjectPending, To: ProjectCancelled, Roles: projectSponsors, RequireReason: true},

	{Kind: KindProject, From: ProjectPlanning, To: ProjectInProgress, Roles: projectOwners},
	{Kind: KindProject, From: ProjectPlanning, To: ProjectOnHold, Roles: projectOwners, RequireReason: true},
	{Kind: KindProject, From: ProjectPlanning, To: ProjectCancelled, Roles: projectSponsors, RequireReason: true},

	{Kind: KindProject, From: ProjectInProgress, To: ProjectOnHold, Roles: projectOwners, RequireReason: true},
	{Kind: KindProject, From: ProjectInProgress, To: ProjectReview, Roles: projectDelivery},
	{Kind: KindProject, From: ProjectInProgress, To: ProjectCancelled, Roles: projectSponsors, RequireReason: true},
	{Kind: KindProject, From: ProjectInProgress, To: ProjectFailed, Roles: projectSponsors, RequireReason: true},

	{Kind: KindProject, From: ProjectOnHold, To: ProjectPlanning, Roles: projectOwners},
	{Kind: KindProject, From: ProjectOnHold, To: ProjectInProgress, Roles: projectOwners},
	{Kind: KindProject, From: ProjectOnHold, To: ProjectCancelled, Roles: projectSponsors, RequireReason: true},
	{Kind: KindProject, From: ProjectOnHold, To: ProjectArchived, Roles: adminsOnly},

	{Kind: KindProject, From: ProjectReview, To: ProjectInProgress, Roles: projectDelivery},
	{Kind: KindProject, From: ProjectReview, To: ProjectTesting, Roles: projectDelivery},

	{Kind: KindProject, From: ProjectTesting, To: ProjectInProgress, Roles: projectDelivery},
	{Kind: KindProject, From: ProjectTesting, To: ProjectCompleted, Roles: projectDelivery},
	{Kind: KindProject, From: ProjectTesting, To: ProjectFailed, Roles: projectSponsors, RequireReason: true},
}

// DefaultTable builds the shipped table. It panics if DefaultEdges is
// malformed, which the package tests guard against.
func DefaultTable() *Table {
	t, err := NewTable(DefaultEdges)
	if err != nil {
		panic("lifecycle: default table: " + err.Error())
	}
	return t
}
