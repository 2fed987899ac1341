package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
)

// Principal is the already-authenticated actor attempting an operation.
type Principal struct {
	Identity        string
	Roles           RoleSet
	OwnedResourceID string // Account the principal may always manage; defaults to Identity
}

// NewPrincipal is shorthand for a principal with the given roles.
func NewPrincipal(identity string, roles ...Role) Principal {
	return Principal{Identity: identity, Roles: NewRoleSet(roles...)}
}

// Basis records why a decision allowed access.
type Basis string

const (
	BasisNone      Basis = ""
	BasisRole      Basis = "role"
	BasisOwnership Basis = "ownership"
)

// Decision is the evaluator's verdict. Err is set when Allowed is false and
// carries InvalidTransition or Forbidden.
type Decision struct {
	Allowed bool
	Basis   Basis
	Reason  string
	Err     error
}

// OwnershipRequest is handed to an ownership override.
type OwnershipRequest struct {
	Principal    Principal
	Ref          Ref
	Owner        string
	From         State
	To           State
	FromTerminal bool
	ToTerminal   bool
}

// OwnershipOverride grants an edge to the entity's designated owner
// regardless of role. It is only consulted after the role check fails and
// only when the principal is the owner.
type OwnershipOverride interface {
	Permits(ctx context.Context, req OwnershipRequest) bool
}

// Evaluator decides whether a principal may walk an edge. It has no side
// effects beyond logging.
type Evaluator struct {
	table     *Table
	overrides map[Kind]OwnershipOverride
	logger    *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator) error

// WithLogger sets the decision logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithOwnershipOverride registers o for kind, replacing any earlier one.
func WithOwnershipOverride(kind Kind, o OwnershipOverride) EvaluatorOption {
	return func(e *Evaluator) error {
		if !ValidKind(kind) {
			return fmt.Errorf("ownership override: unknown kind %q", kind)
		}
		e.overrides[kind] = o
		return nil
	}
}

// WithDefaultOwnership registers the embedded Cedar policy for tasks: an
// assignee may move their task between non-terminal states.
func WithDefaultOwnership(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) error {
		o, err := NewCedarOwnership(nil, logger)
		if err != nil {
			return err
		}
		e.overrides[KindTask] = o
		return nil
	}
}

// NewEvaluator creates an evaluator over table.
func NewEvaluator(table *Table, opts ...EvaluatorOption) (*Evaluator, error) {
	if table == nil {
		return nil, fmt.Errorf("evaluator: nil table")
	}
	e := &Evaluator{
		table:     table,
		overrides: make(map[Kind]OwnershipOverride),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Authorize decides whether p may move the entity from `from` to `to`.
// owner is the entity's designated owner identity, if any.
func (e *Evaluator) Authorize(ctx context.Context, p Principal, ref Ref, owner string, from, to State) Decision {
	d := e.decide(ctx, p, ref, owner, from, to)
	e.logger.Debug("transition authorization",
		"principal", p.Identity,
		"roles", p.Roles.String(),
		"entity", ref.String(),
		"from", from,
		"to", to,
		"allowed", d.Allowed,
		"basis", d.Basis,
		"reason", d.Reason,
	)
	return d
}

func (e *Evaluator) decide(ctx context.Context, p Principal, ref Ref, owner string, from, to State) Decision {
	required, err := e.table.AllowedRoles(ref.Kind, from, to)
	if err != nil {
		return Decision{Reason: "no such edge", Err: err}
	}

	if p.Identity == "" {
		return deny("anonymous principal")
	}

	if p.Roles.Intersects(required) {
		return Decision{Allowed: true, Basis: BasisRole, Reason: "role permitted"}
	}

	if o, ok := e.overrides[ref.Kind]; ok && owner != "" && owner == p.Identity {
		req := OwnershipRequest{
			Principal:    p,
			Ref:          ref,
			Owner:        owner,
			From:         from,
			To:           to,
			FromTerminal: e.table.Terminal(ref.Kind, from),
			ToTerminal:   e.table.Terminal(ref.Kind, to),
		}
		if o.Permits(ctx, req) {
			return Decision{Allowed: true, Basis: BasisOwnership, Reason: "owner override"}
		}
	}

	return deny(fmt.Sprintf("%s needs one of [%s] for %s -> %s",
		p.Identity, required, from, to))
}

func deny(reason string) Decision {
	return Decision{Reason: reason, Err: errForbidden(reason)}
}

// CanManageAccount reports whether p may change the account userID. A
// principal may always act on their own account; ADMIN may act on any.
func (e *Evaluator) CanManageAccount(p Principal, userID string) bool {
	if p.Identity == "" || userID == "" {
		return false
	}
	owned := p.OwnedResourceID
	if owned == "" {
		owned = p.Identity
	}
	if owned == userID {
		return true
	}
	return p.Roles.Has(RoleAdmin)
}

// Table exposes the table the evaluator was built over.
func (e *Evaluator) Table() *Table {
	return e.table
}
