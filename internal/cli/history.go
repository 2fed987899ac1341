package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

var (
	historyEntity string
	historyKind   string
	historyActor  string
	historyFrom   string
	historyTo     string
	historySince  string
	historyUntil  string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the transition history",
	Long: "Prints history records oldest first. Filters combine with AND.\n" +
		"--since is inclusive and --until exclusive; both accept RFC 3339 or YYYY-MM-DD.",
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyEntity, "entity", "e", "", "One entity, e.g. task#12 or project#3")
	historyCmd.Flags().StringVarP(&historyKind, "kind", "k", "", "task or project")
	historyCmd.Flags().StringVar(&historyActor, "actor", "", "Only records by this user")
	historyCmd.Flags().StringVar(&historyFrom, "from-state", "", "Only transitions out of this state (needs --kind)")
	historyCmd.Flags().StringVar(&historyTo, "to-state", "", "Only transitions into this state (needs --kind)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Start of the window (inclusive)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "End of the window (exclusive)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Stop after this many records")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := historyFilter()
	if err != nil {
		return err
	}

	a, err := mustApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	n := 0
	for rec, err := range a.engine.QueryHistory(ctx, f) {
		if err != nil {
			return err
		}
		fmt.Fprintln(out, historyLine(rec, true))
		n++
		if historyLimit > 0 && n >= historyLimit {
			break
		}
	}
	if n == 0 {
		fmt.Fprintln(out, "No history records match.")
	}
	return nil
}

func historyFilter() (lifecycle.HistoryFilter, error) {
	var f lifecycle.HistoryFilter
	var err error

	if historyKind != "" {
		if f.Kind, err = lifecycle.ParseKind(historyKind); err != nil {
			return f, err
		}
	}
	if historyEntity != "" {
		ref, err := parseRef(historyEntity)
		if err != nil {
			return f, err
		}
		if f.Kind != "" && f.Kind != ref.Kind {
			return f, fmt.Errorf("--entity %s conflicts with --kind %s", historyEntity, f.Kind)
		}
		f.Kind, f.EntityID = ref.Kind, ref.ID
	}
	if (historyFrom != "" || historyTo != "") && f.Kind == "" {
		return f, fmt.Errorf("--from-state and --to-state need --kind or --entity")
	}
	if historyFrom != "" {
		if f.OldState, err = lifecycle.ParseState(f.Kind, historyFrom); err != nil {
			return f, err
		}
	}
	if historyTo != "" {
		if f.NewState, err = lifecycle.ParseState(f.Kind, historyTo); err != nil {
			return f, err
		}
	}
	f.Actor = historyActor
	if f.Since, err = parseTime(historySince); err != nil {
		return f, fmt.Errorf("--since: %w", err)
	}
	if f.Until, err = parseTime(historyUntil); err != nil {
		return f, fmt.Errorf("--until: %w", err)
	}
	return f, f.Validate()
}

// parseRef accepts "task#12", "task:12" or "project/3".
func parseRef(s string) (lifecycle.Ref, error) {
	i := strings.IndexAny(s, "#:/")
	if i <= 0 {
		return lifecycle.Ref{}, fmt.Errorf("entity must look like task#12, got %q", s)
	}
	kind, err := lifecycle.ParseKind(s[:i])
	if err != nil {
		return lifecycle.Ref{}, err
	}
	id, err := parseID(string(kind), s[i+1:])
	if err != nil {
		return lifecycle.Ref{}, err
	}
	return lifecycle.Ref{Kind: kind, ID: id}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// historyLine formats one record; withEntity prefixes the entity ref.
func historyLine(r lifecycle.HistoryRecord, withEntity bool) string {
	var b strings.Builder
	b.WriteString(dimFmt(r.Timestamp.Format("2006-01-02 15:04:05")))
	b.WriteString("  ")
	if withEntity {
		fmt.Fprintf(&b, "%-12s ", r.Ref())
	}
	if r.IsCreation() {
		fmt.Fprintf(&b, "created in %s", stateFmt(r.NewState))
	} else {
		fmt.Fprintf(&b, "%s -> %s", stateFmt(*r.OldState), stateFmt(r.NewState))
	}
	fmt.Fprintf(&b, " by %s", r.Actor)
	if r.Reason != nil {
		fmt.Fprintf(&b, ": %q", *r.Reason)
	}
	return b.String()
}
