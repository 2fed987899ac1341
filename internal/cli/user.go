package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

var (
	userRoles       string
	userDisplayName string
	userDept        int64
	userAll         bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts and roles",
}

var userAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Add a user (ADMIN)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

var userShowCmd = &cobra.Command{
	Use:   "show [username]",
	Short: "Show a user (default: yourself)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUserShow,
}

var userRolesCmd = &cobra.Command{
	Use:   "roles [username] [roles]",
	Short: "Replace a user's roles, comma-separated (ADMIN)",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserRoles,
}

var userRenameCmd = &cobra.Command{
	Use:   "rename [username] [display name]",
	Short: "Change a display name (yourself, or any user as ADMIN)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runUserRename,
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate [username]",
	Short: "Deactivate a user (ADMIN)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDeactivate,
}

func init() {
	userAddCmd.Flags().StringVarP(&userRoles, "roles", "r", "", "Comma-separated roles, e.g. team-leader,team-member")
	userAddCmd.Flags().StringVarP(&userDisplayName, "name", "n", "", "Display name")
	userAddCmd.Flags().Int64Var(&userDept, "dept", 0, "Department ID")

	userListCmd.Flags().BoolVarP(&userAll, "all", "a", false, "Include deactivated users")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userRolesCmd)
	userCmd.AddCommand(userRenameCmd)
	userCmd.AddCommand(userDeactivateCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
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
	if err := requireRole(p, "add users", lifecycle.RoleAdmin); err != nil {
		return err
	}

	roles, err := parseRoles(userRoles)
	if err != nil {
		return err
	}
	u, err := a.store.CreateUser(ctx, store.User{
		Username:     args[0],
		DisplayName:  userDisplayName,
		DepartmentID: optionalID(userDept),
		Roles:        roles,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added user %s [%s]\n", u.Username, lifecycle.NewRoleSet(u.Roles...))
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.store.ListUsers(ctx, userAll)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No users.")
		return nil
	}
	for _, u := range users {
		status := ""
		if !u.Active {
			status = dimFmt(" (inactive)")
		}
		fmt.Fprintf(out, "%-16s %-24s %s%s\n", u.Username, truncate(u.DisplayName, 24),
			lifecycle.NewRoleSet(u.Roles...), status)
	}
	return nil
}

func runUserShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := actingUser()
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return fmt.Errorf("which user? pass a username or --as")
	}
	u, err := a.store.GetUser(ctx, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User %s\n", u.Username)
	if u.DisplayName != "" {
		fmt.Fprintf(out, "  Name:     %s\n", u.DisplayName)
	}
	fmt.Fprintf(out, "  Roles:    %s\n", lifecycle.NewRoleSet(u.Roles...))
	if u.DepartmentID != nil {
		if d, err := a.store.GetDepartment(ctx, *u.DepartmentID); err == nil {
			fmt.Fprintf(out, "  Dept:     %s\n", d.Name)
		}
	}
	fmt.Fprintf(out, "  Active:   %t\n", u.Active)
	fmt.Fprintf(out, "  Created:  %s\n", u.CreatedAt.Format("2006-01-02 15:04"))

	tasks, err := a.store.ListTasks(ctx, store.TaskFilter{Assignee: u.Username})
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		fmt.Fprintln(out, "\n  Assigned tasks:")
		for _, t := range tasks {
			fmt.Fprintf(out, "    #%-4d %-12s %s\n", t.ID, t.State, t.Title)
		}
	}
	return nil
}

func runUserRoles(cmd *cobra.Command, args []string) error {
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
	if err := requireRole(p, "change roles", lifecycle.RoleAdmin); err != nil {
		return err
	}

	roles, err := parseRoles(args[1])
	if err != nil {
		return err
	}
	if err := a.store.SetRoles(ctx, args[0], roles); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now holds [%s]\n", args[0], lifecycle.NewRoleSet(roles...))
	return nil
}

func runUserRename(cmd *cobra.Command, args []string) error {
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
	target := args[0]
	if !a.engine.Evaluator().CanManageAccount(p, target) {
		return &lifecycle.Error{
			Code:    lifecycle.CodeForbidden,
			Message: fmt.Sprintf("%s may not manage account %s", p.Identity, target),
		}
	}

	name := strings.Join(args[1:], " ")
	if err := a.store.RenameUser(ctx, target, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", target, name)
	return nil
}

func runUserDeactivate(cmd *cobra.Command, args []string) error {
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
	if err := requireRole(p, "deactivate users", lifecycle.RoleAdmin); err != nil {
		return err
	}
	if args[0] == p.Identity {
		return fmt.Errorf("refusing to deactivate yourself")
	}

	if err := a.store.DeactivateUser(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", args[0])
	return nil
}
