package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

var deptCmd = &cobra.Command{
	Use:   "dept",
	Short: "Manage departments",
}

var deptCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a department (ADMIN)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeptCreate,
}

var deptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List departments",
	Args:  cobra.NoArgs,
	RunE:  runDeptList,
}

func init() {
	deptCmd.AddCommand(deptCreateCmd)
	deptCmd.AddCommand(deptListCmd)
}

func runDeptCreate(cmd *cobra.Command, args []string) error {
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
	if err := requireRole(p, "create departments", lifecycle.RoleAdmin); err != nil {
		return err
	}

	d, err := a.store.CreateDepartment(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created department #%d: %s\n", d.ID, d.Name)
	return nil
}

func runDeptList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	depts, err := a.store.ListDepartments(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(depts) == 0 {
		fmt.Fprintln(out, "No departments.")
		return nil
	}
	for _, d := range depts {
		fmt.Fprintf(out, "#%-4d %s\n", d.ID, d.Name)
	}
	return nil
}
