package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Quick status overview",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.store.CountTasksByState(ctx)
	if err != nil {
		return err
	}
	projects, err := a.store.ListProjects(ctx, store.ProjectFilter{})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 && len(projects) == 0 {
		fmt.Fprintf(out, "Nothing tracked yet. Run: %s\n", cmdFmt(`taskgate task create "description"`))
		return nil
	}

	fmt.Fprintln(out, boldFmt(fmt.Sprintf("Tasks: %d total", total)))
	for _, s := range lifecycle.States(lifecycle.KindTask) {
		fmt.Fprintf(out, "  %-14s %s\n", string(s)+":", stateColors[s].Sprint(counts[s]))
	}

	if len(projects) > 0 {
		byState := make(map[lifecycle.State]int)
		for _, p := range projects {
			byState[p.State]++
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, boldFmt(fmt.Sprintf("Projects: %d active", len(projects))))
		for _, s := range lifecycle.States(lifecycle.KindProject) {
			if byState[s] == 0 {
				continue
			}
			fmt.Fprintf(out, "  %-14s %d\n", string(s)+":", byState[s])
		}
	}

	if counts[lifecycle.TaskBlocked] > 0 {
		blocked, err := a.store.ListTasks(ctx, store.TaskFilter{State: lifecycle.TaskBlocked})
		if err != nil {
			return err
		}
		reasons, err := blockedReasons(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		printBlockers(out, blocked, reasons)
	}
	return nil
}
