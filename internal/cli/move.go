package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// runMove applies a single transition for kind: args are [id] [state].
func runMove(cmd *cobra.Command, kind lifecycle.Kind, args []string, reason string) error {
	ctx := cmd.Context()
	id, err := parseID(string(kind), args[0])
	if err != nil {
		return err
	}
	to, err := lifecycle.ParseState(kind, args[1])
	if err != nil {
		return &lifecycle.Error{Code: lifecycle.CodeInvalidTransition, Message: err.Error()}
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

	res, err := a.engine.ApplyTransition(ctx, lifecycle.TransitionRequest{
		Ref:       lifecycle.Ref{Kind: kind, ID: id},
		To:        to,
		Principal: p,
		Reason:    reason,
	})
	if err != nil {
		return err
	}

	basis := ""
	if res.Basis == lifecycle.BasisOwnership {
		basis = dimFmt(" (as owner)")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s #%d: %s -> %s%s\n",
		kindLabel(kind), id, stateFmt(res.From), stateFmt(res.State), basis)
	return nil
}

// runTargets lists the legal next states for an entity and marks the ones
// the acting user may take.
func runTargets(cmd *cobra.Command, kind lifecycle.Kind, args []string) error {
	ctx := cmd.Context()
	id, err := parseID(string(kind), args[0])
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

	ref := lifecycle.Ref{Kind: kind, ID: id}
	snap, allowed, err := a.engine.AllowedTargets(ctx, ref, p)
	if err != nil {
		return err
	}
	mine := make(map[lifecycle.State]bool, len(allowed))
	for _, s := range allowed {
		mine[s] = true
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s #%d is %s (version %d)\n", kindLabel(kind), id, stateFmt(snap.State), snap.Version)

	table := a.engine.Table()
	legal := table.LegalTargets(kind, snap.State)
	if len(legal) == 0 {
		fmt.Fprintln(out, dimFmt("  terminal: no further transitions"))
		return nil
	}
	for _, to := range legal {
		edge, _ := table.Edge(kind, snap.State, to)
		mark := dimFmt("  ")
		if mine[to] {
			mark = okFmt("✓ ")
		}
		var notes []string
		if edge.RequiresReason() {
			notes = append(notes, "reason")
		}
		notes = append(notes, edge.Roles.String())
		fmt.Fprintf(out, "  %s%-12s %s\n", mark, to, dimFmt("["+strings.Join(notes, "; ")+"]"))
	}
	return nil
}

func kindLabel(kind lifecycle.Kind) string {
	switch kind {
	case lifecycle.KindProject:
		return "Project"
	default:
		return "Task"
	}
}
