package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
	"github.com/imkarma/taskgate/internal/worker"
)

var (
	taskPriority    string
	taskDescription string
	taskAssign      string
	taskProject     int64
	taskListState   string
	taskListMine    bool
	taskListAll     bool
	taskReason      string
)

// Roles that may create tasks, assign them, or retire them.
var taskManagers = []lifecycle.Role{lifecycle.RoleAdmin, lifecycle.RoleProjectManager, lifecycle.RoleTeamLeader}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks and their lifecycle",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a new task in BACKLOG",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign [id] [username]",
	Short: "Assign a task; omit the username to unassign",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskAssign,
}

var taskMoveCmd = &cobra.Command{
	Use:   "move [id] [state]",
	Short: "Move a task to another state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, lifecycle.KindTask, args, taskReason)
	},
}

var taskTargetsCmd = &cobra.Command{
	Use:   "targets [id]",
	Short: "Show where a task can go next",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTargets(cmd, lifecycle.KindTask, args)
	},
}

var taskDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Retire a task; its history is kept",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDeactivate,
}

var taskMoveManyCmd = &cobra.Command{
	Use:   "move-many [state] [id...]",
	Short: "Move several tasks to the same state in parallel",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskMoveMany,
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskPriority, "priority", "p", "medium", "Priority: high, medium, low")
	taskCreateCmd.Flags().StringVarP(&taskDescription, "desc", "d", "", "Task description")
	taskCreateCmd.Flags().StringVarP(&taskAssign, "assign", "a", "", "Assignee username")
	taskCreateCmd.Flags().Int64Var(&taskProject, "project", 0, "Project ID")

	taskListCmd.Flags().StringVarP(&taskListState, "state", "s", "", "Only tasks in this state")
	taskListCmd.Flags().Int64Var(&taskProject, "project", 0, "Only tasks in this project")
	taskListCmd.Flags().BoolVar(&taskListMine, "mine", false, "Only tasks assigned to you")
	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "Include deactivated tasks")

	taskMoveCmd.Flags().StringVarP(&taskReason, "reason", "m", "", "Reason, required for some transitions")
	taskMoveManyCmd.Flags().StringVarP(&taskReason, "reason", "m", "", "Reason applied to every move")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskAssignCmd)
	taskCmd.AddCommand(taskMoveCmd)
	taskCmd.AddCommand(taskTargetsCmd)
	taskCmd.AddCommand(taskDeactivateCmd)
	taskCmd.AddCommand(taskMoveManyCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
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
	if err := requireRole(p, "create tasks", taskManagers...); err != nil {
		return err
	}

	task, err := a.store.CreateTask(ctx, p.Identity, store.NewTask{
		ProjectID:   optionalID(taskProject),
		Title:       strings.Join(args, " "),
		Description: taskDescription,
		Priority:    taskPriority,
		Assignee:    taskAssign,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created task #%d: %s [%s]\n", task.ID, task.Title, task.Priority)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f := store.TaskFilter{ProjectID: taskProject, IncludeInactive: taskListAll}
	if taskListState != "" {
		if f.State, err = lifecycle.ParseState(lifecycle.KindTask, taskListState); err != nil {
			return err
		}
	}
	if taskListMine {
		if f.Assignee = actingUser(); f.Assignee == "" {
			return fmt.Errorf("--mine needs --as or $%s", envUser)
		}
	}

	tasks, err := a.store.ListTasks(ctx, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	for _, t := range tasks {
		assignee := ""
		if t.Assignee != "" {
			assignee = fmt.Sprintf(" [%s]", t.Assignee)
		}
		inactive := ""
		if !t.Active {
			inactive = dimFmt(" (inactive)")
		}
		fmt.Fprintf(out, "#%-4d %-12s %-6s %s%s%s\n",
			t.ID, t.State, priorityFmt(t.Priority), t.Title, assignee, inactive)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("task", args[0])
	if err != nil {
		return err
	}

	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task #%d\n", task.ID)
	fmt.Fprintf(out, "  Title:    %s\n", task.Title)
	fmt.Fprintf(out, "  State:    %s\n", stateFmt(task.State))
	fmt.Fprintf(out, "  Priority: %s\n", task.Priority)
	if task.Description != "" {
		fmt.Fprintf(out, "  Desc:     %s\n", task.Description)
	}
	if task.Assignee != "" {
		fmt.Fprintf(out, "  Assignee: %s\n", task.Assignee)
	}
	if task.ProjectID != nil {
		fmt.Fprintf(out, "  Project:  #%d\n", *task.ProjectID)
	}
	if !task.Active {
		fmt.Fprintf(out, "  Active:   false\n")
	}
	fmt.Fprintf(out, "  Version:  %d\n", task.Version)
	fmt.Fprintf(out, "  Created:  %s\n", task.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "  Updated:  %s\n", task.UpdatedAt.Format("2006-01-02 15:04"))

	recs, err := a.store.EntityHistory(ctx, task.Ref())
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

func runTaskAssign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("task", args[0])
	if err != nil {
		return err
	}
	assignee := ""
	if len(args) > 1 {
		assignee = args[1]
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
	if err := requireRole(p, "assign tasks", taskManagers...); err != nil {
		return err
	}

	if assignee != "" {
		u, err := a.store.GetUser(ctx, assignee)
		if err != nil {
			return err
		}
		if !u.Active {
			return fmt.Errorf("user %s is deactivated", assignee)
		}
	}
	if err := a.store.AssignTask(ctx, id, assignee); err != nil {
		return err
	}

	if assignee == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Unassigned task #%d\n", id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Assigned task #%d to %s\n", id, assignee)
	return nil
}

func runTaskDeactivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID("task", args[0])
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
	if err := requireRole(p, "deactivate tasks", taskManagers...); err != nil {
		return err
	}

	if err := a.store.DeactivateTask(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated task #%d\n", id)
	return nil
}

func runTaskMoveMany(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	to, err := lifecycle.ParseState(lifecycle.KindTask, args[0])
	if err != nil {
		return err
	}
	var ids []int64
	for _, arg := range args[1:] {
		id, err := parseID("task", arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
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

	reqs := make([]lifecycle.TransitionRequest, len(ids))
	for i, id := range ids {
		reqs[i] = lifecycle.TransitionRequest{Ref: lifecycle.TaskRef(id), To: to, Principal: p, Reason: taskReason}
	}
	results := a.pool().Run(ctx, reqs)

	out := cmd.OutOrStdout()
	for _, r := range results {
		switch r.Status {
		case worker.StatusApplied:
			fmt.Fprintf(out, "  %s #%d: %s -> %s\n", okFmt("✓"), r.Request.Ref.ID, r.Result.From, r.Result.State)
		default:
			fmt.Fprintf(out, "  %s #%d: %s\n", errFmt("✗"), r.Request.Ref.ID, ErrorLine(r.Error))
		}
	}

	sum := worker.Summary(results)
	fmt.Fprintf(out, "\n%d applied, %d rejected, %d failed\n",
		sum[worker.StatusApplied], sum[worker.StatusRejected], sum[worker.StatusFailed])
	if sum[worker.StatusApplied] != len(results) {
		return fmt.Errorf("%d of %d moves did not apply", len(results)-sum[worker.StatusApplied], len(results))
	}
	return nil
}
