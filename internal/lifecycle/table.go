package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// GuardInput is what an edge guard sees. Guards run after authorization
// and before anything is persisted.
type GuardInput struct {
	Ref       Ref
	From      State
	To        State
	Principal Principal
	Reason    string // Trimmed
}

// Guard rejects a transition that is otherwise legal and authorized.
type Guard func(in GuardInput) error

// RequireReason rejects the transition when no reason was supplied.
func RequireReason(in GuardInput) error {
	if in.Reason == "" {
		return errReasonRequired(in.Ref.Kind, in.From, in.To)
	}
	return nil
}

// EdgeDef declares one legal transition.
type EdgeDef struct {
	Kind          Kind
	From          State
	To            State
	Roles         []Role
	RequireReason bool
	Guards        []Guard
}

// Edge is a validated transition in a Table.
type Edge struct {
	Kind   Kind
	From   State
	To     State
	Roles  RoleSet
	Guards []Guard

	requiresReason bool
}

// RequiresReason reports whether the edge carries the reason guard.
func (e Edge) RequiresReason() bool {
	return e.requiresReason
}

type edgeKey struct {
	kind     Kind
	from, to State
}

// Table is the authoritative set of edges for every kind. Anything not in
// the table is illegal; nothing is inferred from state order.
type Table struct {
	edges map[edgeKey]Edge
	out   map[Kind]map[State][]State
}

// NewTable validates defs and builds a table. It rejects unknown kinds or
// states, self-loops, duplicate edges and edges with no roles.
func NewTable(defs []EdgeDef) (*Table, error) {
	t := &Table{
		edges: make(map[edgeKey]Edge, len(defs)),
		out:   make(map[Kind]map[State][]State),
	}
	for _, d := range defs {
		if err := t.add(d); err != nil {
			return nil, err
		}
	}
	t.sortTargets()
	return t, nil
}

func (t *Table) add(d EdgeDef) error {
	if !ValidKind(d.Kind) {
		return fmt.Errorf("edge %s -> %s: unknown kind %q", d.From, d.To, d.Kind)
	}
	if !ValidState(d.Kind, d.From) || !ValidState(d.Kind, d.To) {
		return fmt.Errorf("%s edge %s -> %s: unknown state", d.Kind, d.From, d.To)
	}
	if d.From == d.To {
		return fmt.Errorf("%s edge %s -> %s: self-loops are not transitions", d.Kind, d.From, d.To)
	}
	if len(d.Roles) == 0 {
		return fmt.Errorf("%s edge %s -> %s: no roles", d.Kind, d.From, d.To)
	}
	key := edgeKey{d.Kind, d.From, d.To}
	if _, dup := t.edges[key]; dup {
		return fmt.Errorf("%s edge %s -> %s declared twice", d.Kind, d.From, d.To)
	}

	e := Edge{
		Kind:           d.Kind,
		From:           d.From,
		To:             d.To,
		Roles:          NewRoleSet(d.Roles...),
		requiresReason: d.RequireReason,
	}
	if d.RequireReason {
		e.Guards = append(e.Guards, RequireReason)
	}
	e.Guards = append(e.Guards, d.Guards...)
	t.edges[key] = e

	if t.out[d.Kind] == nil {
		t.out[d.Kind] = make(map[State][]State)
	}
	t.out[d.Kind][d.From] = append(t.out[d.Kind][d.From], d.To)
	return nil
}

func (t *Table) sortTargets() {
	for kind, byFrom := range t.out {
		for from, targets := range byFrom {
			sort.Slice(targets, func(i, j int) bool {
				return stateIndex(kind, targets[i]) < stateIndex(kind, targets[j])
			})
			byFrom[from] = targets
		}
	}
}

// LegalTargets returns the states reachable from `from` in one step, in
// enumeration order. It is empty for terminal states.
func (t *Table) LegalTargets(kind Kind, from State) []State {
	targets := t.out[kind][from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// AllowedRoles returns the roles that may walk (from -> to). It fails with
// InvalidTransition when the edge does not exist.
func (t *Table) AllowedRoles(kind Kind, from, to State) (RoleSet, error) {
	e, ok := t.edges[edgeKey{kind, from, to}]
	if !ok {
		return nil, errInvalidTransition(kind, from, to)
	}
	return e.Roles.clone(), nil
}

// Edge looks up a single edge.
func (t *Table) Edge(kind Kind, from, to State) (Edge, bool) {
	e, ok := t.edges[edgeKey{kind, from, to}]
	return e, ok
}

// Terminal reports whether s has no outgoing edges.
func (t *Table) Terminal(kind Kind, s State) bool {
	return len(t.out[kind][s]) == 0
}

// Edges returns every edge of kind sorted by (from, to).
func (t *Table) Edges(kind Kind) []Edge {
	var out []Edge
	for k, e := range t.edges {
		if k.kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := stateIndex(kind, out[i].From), stateIndex(kind, out[j].From)
		if fi != fj {
			return fi < fj
		}
		return stateIndex(kind, out[i].To) < stateIndex(kind, out[j].To)
	})
	return out
}

// WithReasonRequired returns a copy of t where the named edges also require
// a reason. Edges that already do are left alone.
func (t *Table) WithReasonRequired(refs ...EdgeRef) (*Table, error) {
	cp := &Table{
		edges: make(map[edgeKey]Edge, len(t.edges)),
		out:   make(map[Kind]map[State][]State, len(t.out)),
	}
	for k, e := range t.edges {
		e.Guards = append([]Guard(nil), e.Guards...)
		cp.edges[k] = e
	}
	for kind, byFrom := range t.out {
		cp.out[kind] = make(map[State][]State, len(byFrom))
		for from, targets := range byFrom {
			cp.out[kind][from] = append([]State(nil), targets...)
		}
	}

	for _, r := range refs {
		key := edgeKey{r.Kind, r.From, r.To}
		e, ok := cp.edges[key]
		if !ok {
			return nil, fmt.Errorf("require reason on %s: no such edge", r)
		}
		if e.requiresReason {
			continue
		}
		e.requiresReason = true
		e.Guards = append([]Guard{RequireReason}, e.Guards...)
		cp.edges[key] = e
	}
	return cp, nil
}

// EdgeRef names an edge without its annotations.
type EdgeRef struct {
	Kind Kind
	From State
	To   State
}

func (r EdgeRef) String() string {
	return fmt.Sprintf("%s %s -> %s", r.Kind, r.From, r.To)
}

// ParseEdgeRef builds an EdgeRef from user-facing strings.
func ParseEdgeRef(kind, from, to string) (EdgeRef, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return EdgeRef{}, err
	}
	f, err := ParseState(k, from)
	if err != nil {
		return EdgeRef{}, err
	}
	dst, err := ParseState(k, to)
	if err != nil {
		return EdgeRef{}, err
	}
	return EdgeRef{Kind: k, From: f, To: dst}, nil
}

// Describe renders the table for kind as "FROM -> TO [roles]" lines.
func (t *Table) Describe(kind Kind) string {
	var b strings.Builder
	for _, e := range t.Edges(kind) {
		fmt.Fprintf(&b, "%-12s -> %-12s [%s]", e.From, e.To, e.Roles)
		if e.requiresReason {
			b.WriteString(" reason")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
