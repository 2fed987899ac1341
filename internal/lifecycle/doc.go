// Package lifecycle is the single mutator of Task and Project state.
//
// It owns three pieces that work together:
//
//   - Table: the declarative edge set per entity kind. An edge names the
//     roles that may walk it and any guards (such as a required reason)
//     that run before the change is persisted.
//   - Evaluator: decides allow/deny for a principal attempting an edge,
//     using the table's roles plus per-kind ownership overrides expressed
//     as Cedar policies.
//   - Engine: loads current state, runs the evaluator and guards, then
//     writes the new state and its history record in one unit of work.
//
// # Storage contract
//
// The engine never talks to a database directly. It consumes an
// EntityStore whose Atomically method must commit WriteState and
// AppendHistory together or not at all. WriteState is a compare-and-swap
// on the version read by LoadState; a mismatch must be reported as
// ErrVersionConflict so the engine can surface ConcurrentModification.
//
// # Usage
//
//	table := lifecycle.DefaultTable()
//	eval, err := lifecycle.NewEvaluator(table, lifecycle.WithDefaultOwnership(logger))
//	engine, err := lifecycle.NewEngine(lifecycle.Config{
//		Table:     table,
//		Evaluator: eval,
//		Store:     st,
//		History:   st,
//	})
//
//	res, err := engine.ApplyTransition(ctx, lifecycle.TransitionRequest{
//		Ref:       lifecycle.TaskRef(42),
//		To:        lifecycle.TaskInProgress,
//		Principal: principal,
//	})
//	if lifecycle.IsRetryable(err) {
//		// reload and try again
//	}
//
// # Thread Safety
//
// Table, Evaluator and Engine are immutable after construction and safe
// for concurrent use.
package lifecycle
