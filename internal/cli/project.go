package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

var (
	projectDescription string
	projectDept        int64
	projectManager     string
	projectListState   string
	projectListAll     bool
	projectReason      string
)

var projectCreators = []lifecycle.Role{lifecycle.RoleAdmin, lifecycle.RoleDepartmentManager, lifecycle.RoleProjectManager}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects and their lifecycle",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project in PENDING",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show project details, tasks and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectMoveCmd = &cobra.Command{
	Use:   "move [id] [state]",
	Short: "Move a project to another state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, lifecycle.KindProject, args, projectReason)
	},
}

var projectTargetsCmd = &cobra.Command{
	Use:   "targets [id]",
	Short: "Show where a project can go next",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTargets(cmd, lifecycle.KindProject, args)
	},
}

var projectAssignCmd = &cobra.Command{
	Use:   "assign [id] [username]",
	Short: "Hand a project to another manager",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectAssign,
}

var projectDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Retire a project (ADMIN); its history is kept",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDeactivate,
}

func init() {
	projectCreateCmd.Flags().StringVarP(&projectDescription, "desc", "d", "", "Project description")
	projectCreateCmd.Flags().Int64Var(&projectDept, "dept", 0, "Department ID")
	projectCreateCmd.Flags().StringVar(&projectManager, "manager", "", "Managing user (default: you)")

	projectListCmd.Flags().StringVarP(&projectListState, "state", "s", "", "Only projects in this state")
	projectListCmd.Flags().Int64Var(&projectDept, "dept", 0, "Only projects in this department")
	projectListCmd.Flags().StringVar(&projectManager, "manager", "", "Only projects with this manager")
	projectListCmd.Flags().BoolVar(&projectListAll, "all", false, "Include deactivated projects")

	projectMoveCmd.Flags().StringVarP(&projectReason, "reason", "m", "", "Reason, required for some transitions")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectMoveCmd)
	projectCmd.AddCommand(projectTargetsCmd)
	projectCmd.AddCommand(projectAssignCmd)
	projectCmd.AddCommand(projectDeactivateCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.principal(ctx)
	if err != nil {
		return err
	}
	if err := requireRole(p, "create projects", projectCreators...); err != nil {
		return err
	}

	manager := projectManager
	if manager == "" {
		manager = p.Identity
	}
	proj, err := a.store.CreateProject(ctx, p.Identity, store.NewProject{
		Name:         strings.Join(args, " "),
		Description:  projectDescription,
		DepartmentID: optionalID(projectDept),
		Manager:      manager,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project #%d: %s (manager %s)\n", proj.ID, proj.Name, proj.Manager)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f := store.ProjectFilter{DepartmentID: projectDept, Manager: projectManager, IncludeInactive: projectListAll}
	if projectListState != "" {
		if f.State, err = lifecycle.ParseState(lifecycle.KindProject, projectListState); err != nil {
			return err
		}
	}
	projects, err := a.store.ListProjects(ctx, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects found.")
		return nil
	}
	for _, pr := range projects {
		inactive := ""
		if !pr.Active {
			inactive = dimFmt(" (inactive)")
		}
		fmt.Fprintf(out, "#%-4d %-12s %-28s %3d tasks  %s%s\n",
			pr.ID, pr.State, truncate(pr.Name, 28), pr.TaskCount, pr.Manager, inactive)
	}
	return nil
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("project", args[0])
	if err != nil {
		return err
	}

	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pr, err := a.store.GetProject(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project #%d\n", pr.ID)
	fmt.Fprintf(out, "  Name:     %s\n", pr.Name)
	fmt.Fprintf(out, "  State:    %s\n", stateFmt(pr.State))
	if pr.Description != "" {
		fmt.Fprintf(out, "  Desc:     %s\n", pr.Description)
	}
	if pr.Manager != "" {
		fmt.Fprintf(out, "  Manager:  %s\n", pr.Manager)
	}
	if pr.DepartmentID != nil {
		if d, err := a.store.GetDepartment(ctx, *pr.DepartmentID); err == nil {
			fmt.Fprintf(out, "  Dept:     %s\n", d.Name)
		}
	}
	fmt.Fprintf(out, "  Tasks:    %d\n", pr.TaskCount)
	fmt.Fprintf(out, "  Version:  %d\n", pr.Version)

	tasks, err := a.store.ListTasks(ctx, store.TaskFilter{ProjectID: pr.ID})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintf(out, "    #%-4d %-12s %s\n", t.ID, t.State, t.Title)
	}

	recs, err := a.store.EntityHistory(ctx, pr.Ref())
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		fmt.Fprintln(out, "\n  History:")
		for _, r := range recs {
			fmt.Fprintf(out, "    %s\n", historyLine(r, false))
		}
	}
	return nil
}

func runProjectAssign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("project", args[0])
	if err != nil {
		return err
	}

	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.principal(ctx)
	if err != nil {
		return err
	}
	if err := requireRole(p, "assign projects", projectCreators...); err != nil {
		return err
	}

	u, err := a.store.GetUser(ctx, args[1])
	if err != nil {
		return err
	}
	if !u.Active {
		return fmt.Errorf("user %s is deactivated", u.Username)
	}
	if err := a.store.SetProjectManager(ctx, id, u.Username); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project #%d is now managed by %s\n", id, u.Username)
	return nil
}

func runProjectDeactivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("project", args[0])
	if err != nil {
		return err
	}

	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.principal(ctx)
	if err != nil {
		return err
	}
	if err := requireRole(p, "deactivate projects", lifecycle.RoleAdmin); err != nil {
		return err
	}

	if err := a.store.DeactivateProject(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated project #%d\n", id)
	return nil
}
