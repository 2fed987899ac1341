package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/tui"
)

var uiProject int64

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the interactive task board",
	Long:  "Opens a kanban of tasks by state. Pick a task, press m and choose a target; only the moves your roles allow are offered.",
	Args:  cobra.NoArgs,
	RunE:  runUI,
}

func init() {
	uiCmd.Flags().Int64Var(&uiProject, "project", 0, "Only tasks in this project")
}

func runUI(cmd *cobra.Command, args []string) error {
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

	model := tui.New(ctx, a.engine, a.store, p, tui.WithProject(uiProject),
		tui.WithReasonLimit(a.cfg.Policy.ReasonMaxLength))
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
