package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

var (
	flagAs     string
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "taskgate",
	Short: "Role-gated task and project lifecycles",
	Long: "taskgate keeps tasks and projects moving through their lifecycles.\n" +
		"Every state change is checked against the transition table and the\n" +
		"acting user's roles, and lands in an append-only history.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the command tree with explicit arguments and output.
func ExecuteContext(ctx context.Context, args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAs, "as", "", "Act as this user (default $"+envUser+")")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+defaultConfigPath()+")")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deptCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uiCmd)
	rootCmd.AddCommand(rulesCmd)
}
