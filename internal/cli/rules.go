package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

var rulesCmd = &cobra.Command{
	Use:   "rules [task|project]",
	Short: "Print the transition table in effect",
	Long:  "Lists every legal edge with the roles allowed to take it. Edges marked reason need -m when moving. Config require_reason entries are included.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	kinds := lifecycle.Kinds()
	if len(args) == 1 {
		k, err := lifecycle.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []lifecycle.Kind{k}
	}

	a, err := mustApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for i, k := range kinds {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, boldFmt(kindLabel(k)+" transitions"))
		fmt.Fprint(out, a.engine.Table().Describe(k))
	}
	return nil
}
