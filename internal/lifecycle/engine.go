package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultReasonMaxLength bounds the reason stored with a history record.
const DefaultReasonMaxLength = 500

// EntityStore is the persistence port the engine reads and writes through.
type EntityStore interface {
	// LoadState returns the current state, owner and version. It returns
	// ErrEntityNotFound for a missing or inactive entity.
	LoadState(ctx context.Context, ref Ref) (Snapshot, error)

	// Atomically runs fn in a single unit of work. Everything fn writes
	// commits together or not at all; if fn returns an error or ctx is
	// cancelled before commit, nothing is written.
	Atomically(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// UnitOfWork is the write side available inside EntityStore.Atomically.
type UnitOfWork interface {
	// WriteState sets the entity's state if its version still equals
	// expectedVersion, bumping the version. Otherwise ErrVersionConflict.
	WriteState(ctx context.Context, ref Ref, state State, expectedVersion int64) error

	// AppendHistory appends rec and returns its id.
	AppendHistory(ctx context.Context, rec HistoryRecord) (string, error)
}

// Clock supplies history timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Config wires an Engine to its collaborators.
type Config struct {
	Table           *Table
	Evaluator       *Evaluator
	Store           EntityStore
	History         HistoryReader
	Clock           Clock        // Defaults to SystemClock
	Logger          *slog.Logger // Defaults to slog.Default()
	ReasonMaxLength int          // Zero means DefaultReasonMaxLength
}

// Engine is the only component allowed to change entity state.
type Engine struct {
	table     *Table
	authz     *Evaluator
	store     EntityStore
	history   HistoryReader
	clock     Clock
	logger    *slog.Logger
	reasonMax int
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.History == nil {
		return nil, errors.New("engine: history reader is required")
	}
	table := cfg.Table
	if table == nil {
		table = DefaultTable()
	}
	eval := cfg.Evaluator
	if eval == nil {
		var err error
		eval, err = NewEvaluator(table, WithLogger(cfg.Logger))
		if err != nil {
			return nil, err
		}
	}
	if eval.Table() != table {
		return nil, errors.New("engine: evaluator was built over a different table")
	}

	e := &Engine{
		table:     table,
		authz:     eval,
		store:     cfg.Store,
		history:   cfg.History,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		reasonMax: cfg.ReasonMaxLength,
	}
	if e.clock == nil {
		e.clock = SystemClock
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.reasonMax <= 0 {
		e.reasonMax = DefaultReasonMaxLength
	}
	return e, nil
}

// TransitionRequest asks the engine to move one entity.
type TransitionRequest struct {
	Ref       Ref
	To        State
	Principal Principal
	Reason    string
}

// Result is returned for an applied transition.
type Result struct {
	Ref       Ref
	From      State
	State     State
	HistoryID string
	Version   int64
	Basis     Basis
}

// ApplyTransition validates and applies req. On success the new state and
// its history record have been committed together. On failure nothing has
// been written and the error is an *Error.
func (e *Engine) ApplyTransition(ctx context.Context, req TransitionRequest) (Result, error) {
	res, err := e.apply(ctx, req)
	if err != nil {
		e.logger.Warn("transition rejected",
			"entity", req.Ref.String(),
			"to", req.To,
			"actor", req.Principal.Identity,
			"code", ErrorCode(err),
			"error", err,
		)
		return Result{}, err
	}
	e.logger.Info("transition applied",
		"entity", res.Ref.String(),
		"from", res.From,
		"to", res.State,
		"actor", req.Principal.Identity,
		"basis", res.Basis,
		"history_id", res.HistoryID,
		"version", res.Version,
	)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, req TransitionRequest) (Result, error) {
	ref := req.Ref
	if !ValidKind(ref.Kind) {
		return Result{}, errUnknownKind(ref.Kind)
	}

	snap, err := e.load(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	from := snap.State

	if !ValidState(ref.Kind, req.To) {
		return Result{}, errUnknownState(ref.Kind, req.To)
	}
	if req.To == from {
		return Result{}, errNoOp(ref, from)
	}

	decision := e.authz.Authorize(ctx, req.Principal, ref, snap.Owner, from, req.To)
	if !decision.Allowed {
		return Result{}, decision.Err
	}

	edge, ok := e.table.Edge(ref.Kind, from, req.To)
	if !ok {
		return Result{}, errInvalidTransition(ref.Kind, from, req.To)
	}

	reason := strings.TrimSpace(req.Reason)
	in := GuardInput{Ref: ref, From: from, To: req.To, Principal: req.Principal, Reason: reason}
	for _, g := range edge.Guards {
		if err := g(in); err != nil {
			return Result{}, err
		}
	}
	if n := utf8.RuneCountInString(reason); n > e.reasonMax {
		return Result{}, errReasonTooLong(n, e.reasonMax)
	}

	rec := HistoryRecord{
		EntityID:  ref.ID,
		Kind:      ref.Kind,
		OldState:  &from,
		NewState:  req.To,
		Actor:     req.Principal.Identity,
		Timestamp: e.clock.Now().UTC(),
	}
	if reason != "" {
		rec.Reason = &reason
	}

	var historyID string
	err = e.store.Atomically(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if err := uow.WriteState(ctx, ref, req.To, snap.Version); err != nil {
			return err
		}
		id, err := uow.AppendHistory(ctx, rec)
		if err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		historyID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Result{}, errConcurrentModification(ref, snap.Version)
		}
		return Result{}, errStorage("commit transition", err)
	}

	return Result{
		Ref:       ref,
		From:      from,
		State:     req.To,
		HistoryID: historyID,
		Version:   snap.Version + 1,
		Basis:     decision.Basis,
	}, nil
}

func (e *Engine) load(ctx context.Context, ref Ref) (Snapshot, error) {
	snap, err := e.store.LoadState(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return Snapshot{}, errNotFound(ref)
		}
		return Snapshot{}, errStorage("load state", err)
	}
	if !ValidState(ref.Kind, snap.State) {
		return Snapshot{}, errStorage("load state",
			fmt.Errorf("%s holds unknown state %q", ref, snap.State))
	}
	return snap, nil
}

// LegalTargets returns the states reachable from current in one step,
// regardless of who asks.
func (e *Engine) LegalTargets(kind Kind, current State) []State {
	return e.table.LegalTargets(kind, current)
}

// AllowedTargets loads ref and returns the legal targets p is authorized
// for. Guards are not evaluated, so a listed target may still need a reason.
func (e *Engine) AllowedTargets(ctx context.Context, ref Ref, p Principal) (Snapshot, []State, error) {
	if !ValidKind(ref.Kind) {
		return Snapshot{}, nil, errUnknownKind(ref.Kind)
	}
	snap, err := e.load(ctx, ref)
	if err != nil {
		return Snapshot{}, nil, err
	}
	var out []State
	for _, to := range e.table.LegalTargets(ref.Kind, snap.State) {
		if e.authz.decide(ctx, p, ref, snap.Owner, snap.State, to).Allowed {
			out = append(out, to)
		}
	}
	return snap, out, nil
}

// QueryHistory streams history records matching f in timestamp order. A
// malformed filter yields a single error.
func (e *Engine) QueryHistory(ctx context.Context, f HistoryFilter) iter.Seq2[HistoryRecord, error] {
	if err := f.Validate(); err != nil {
		return failedSeq(err)
	}
	return func(yield func(HistoryRecord, error) bool) {
		for rec, err := range e.history.QueryHistory(ctx, f) {
			if err != nil {
				yield(HistoryRecord{}, errStorage("query history", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Table exposes the engine's transition table.
func (e *Engine) Table() *Table {
	return e.table
}

// Evaluator exposes the engine's authorization evaluator.
func (e *Engine) Evaluator() *Evaluator {
	return e.authz
}
