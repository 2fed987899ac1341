package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

// Output palette. fatih/color drops the escapes when stdout is not a tty.
var (
	boldFmt = color.New(color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
	okFmt   = color.New(color.FgGreen).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	cmdFmt  = color.New(color.FgCyan).SprintFunc()
)

var stateColors = map[lifecycle.State]*color.Color{
	lifecycle.TaskBacklog:    color.New(color.FgWhite),
	lifecycle.TaskInAnalysis: color.New(color.FgCyan),
	lifecycle.TaskInProgress: color.New(color.FgBlue),
	lifecycle.TaskBlocked:    color.New(color.FgRed),
	lifecycle.TaskCompleted:  color.New(color.FgGreen),
	lifecycle.TaskCancelled:  color.New(color.Faint),

	lifecycle.ProjectPending:  color.New(color.FgWhite),
	lifecycle.ProjectPlanning: color.New(color.FgCyan),
	lifecycle.ProjectOnHold:   color.New(color.FgYellow),
	lifecycle.ProjectReview:   color.New(color.FgMagenta),
	lifecycle.ProjectTesting:  color.New(color.FgMagenta),
	lifecycle.ProjectFailed:   color.New(color.FgRed),
	lifecycle.ProjectArchived: color.New(color.Faint),
}

// stateFmt colours a state name. Shared names like IN_PROGRESS use the
// task colour.
func stateFmt(s lifecycle.State) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}

func priorityFmt(priority string) string {
	switch priority {
	case store.PriorityHigh:
		return color.New(color.FgRed, color.Bold).Sprint(priority)
	case store.PriorityMedium:
		return warnFmt(priority)
	case store.PriorityLow:
		return dimFmt(priority)
	default:
		return priority
	}
}

var (
	boardProject int64
	boardAll     bool
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the task board",
	Args:  cobra.NoArgs,
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().Int64Var(&boardProject, "project", 0, "Only tasks in this project")
	boardCmd.Flags().BoolVar(&boardAll, "all", false, "Include the CANCELLED column")
}

func runBoard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.store.ListTasks(ctx, store.TaskFilter{ProjectID: boardProject})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintf(out, "%s Create a task: %s\n", dimFmt("Board is empty."), cmdFmt(`taskgate task create "description"`))
		return nil
	}

	// Group tasks by state.
	columns := make(map[lifecycle.State][]store.Task)
	for _, t := range tasks {
		columns[t.State] = append(columns[t.State], t)
	}
	var order []lifecycle.State
	for _, s := range lifecycle.States(lifecycle.KindTask) {
		if s == lifecycle.TaskCancelled && !boardAll {
			continue
		}
		order = append(order, s)
	}

	reasons, err := blockedReasons(ctx, a)
	if err != nil {
		return err
	}

	const colWidth = 22
	var header, sep strings.Builder
	for _, s := range order {
		label := fmt.Sprintf(" %s (%d)", strings.ReplaceAll(string(s), "_", " "), len(columns[s]))
		header.WriteString(boldFmt(stateFmt(s)) + label[len(s)+1:])
		header.WriteString(strings.Repeat(" ", max(0, colWidth-utf8.RuneCountInString(label)+1)))
		sep.WriteString(strings.Repeat("─", colWidth))
	}
	fmt.Fprintln(out, header.String())
	fmt.Fprintln(out, dimFmt(sep.String()))

	rows := 0
	for _, s := range order {
		rows = max(rows, len(columns[s]))
	}
	for i := 0; i < rows; i++ {
		var title, detail strings.Builder
		for _, s := range order {
			col := columns[s]
			if i >= len(col) {
				title.WriteString(strings.Repeat(" ", colWidth))
				detail.WriteString(strings.Repeat(" ", colWidth))
				continue
			}
			t := col[i]
			id := fmt.Sprintf("#%d", t.ID)
			text := truncate(t.Title, colWidth-len(id)-2)
			writeCell(&title, " "+priorityColored(t.Priority, id)+" "+text, 2+len(id)+utf8.RuneCountInString(text), colWidth)

			var plain, styled string
			switch {
			case t.State == lifecycle.TaskBlocked && reasons[t.ID] != "":
				plain = "   ! " + truncate(reasons[t.ID], colWidth-6)
				styled = errFmt(plain)
			case t.Assignee != "":
				plain = "   @" + truncate(t.Assignee, colWidth-5)
				styled = cmdFmt(plain)
			}
			writeCell(&detail, styled, utf8.RuneCountInString(plain), colWidth)
		}
		fmt.Fprintln(out, title.String())
		fmt.Fprintln(out, detail.String())
		fmt.Fprintln(out)
	}

	printBlockers(out, columns[lifecycle.TaskBlocked], reasons)

	// Summary line.
	fmt.Fprintf(out, "%s", boldFmt(fmt.Sprintf("%d tasks", len(tasks))))
	if n := len(columns[lifecycle.TaskCompleted]); n > 0 {
		fmt.Fprintf(out, "  %s", okFmt(fmt.Sprintf("✓ %d completed", n)))
	}
	if n := len(columns[lifecycle.TaskInProgress]); n > 0 {
		fmt.Fprintf(out, "  %s", stateFmt(lifecycle.TaskInProgress)+fmt.Sprintf(" %d", n))
	}
	if n := len(columns[lifecycle.TaskBlocked]); n > 0 {
		fmt.Fprintf(out, "  %s", errFmt(fmt.Sprintf("! %d blocked", n)))
	}
	fmt.Fprintln(out)
	return nil
}

// writeCell writes styled text and pads it to width using its visible length.
func writeCell(b *strings.Builder, styled string, visible, width int) {
	b.WriteString(styled)
	b.WriteString(strings.Repeat(" ", max(0, width-visible)))
}

func priorityColored(priority, s string) string {
	switch priority {
	case store.PriorityHigh:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case store.PriorityLow:
		return dimFmt(s)
	default:
		return warnFmt(s)
	}
}

// blockedReasons maps each task to the reason of its latest move into
// BLOCKED. The history is drained before returning so the store is free.
func blockedReasons(ctx context.Context, a *app) (map[int64]string, error) {
	recs, err := lifecycle.CollectHistory(a.engine.QueryHistory(ctx, lifecycle.HistoryFilter{
		Kind:     lifecycle.KindTask,
		NewState: lifecycle.TaskBlocked,
	}))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(recs))
	for _, r := range recs {
		if r.Reason != nil {
			out[r.EntityID] = *r.Reason
		}
	}
	return out, nil
}

func printBlockers(out io.Writer, blocked []store.Task, reasons map[int64]string) {
	if len(blocked) == 0 {
		return
	}
	fmt.Fprintln(out, errFmt("!  Blocked tasks"))
	for _, t := range blocked {
		fmt.Fprintf(out, "  %s: %s\n", warnFmt(fmt.Sprintf("#%d", t.ID)), reasons[t.ID])
		fmt.Fprintf(out, "       → %s\n", cmdFmt(fmt.Sprintf("taskgate task move %d in_progress", t.ID)))
	}
	fmt.Fprintln(out)
}
