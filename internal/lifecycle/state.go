package lifecycle

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which lifecycle an entity follows.
type Kind string

const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
)

// State is a label drawn from a kind's closed enumeration.
type State string

// Task states.
const (
	TaskBacklog    State = "BACKLOG"
	TaskInAnalysis State = "IN_ANALYSIS"
	TaskInProgress State = "IN_PROGRESS"
	TaskBlocked    State = "BLOCKED"
	TaskCancelled  State = "CANCELLED"
	TaskCompleted  State = "COMPLETED"
)

// Project statuses.
const (
	ProjectPending    State = "PENDING"
	ProjectPlanning   State = "PLANNING"
	ProjectInProgress State = "IN_PROGRESS"
	ProjectOnHold     State = "ON_HOLD"
	ProjectReview     State = "REVIEW"
	ProjectTesting    State = "TESTING"
	ProjectCompleted  State = "COMPLETED"
	ProjectCancelled  State = "CANCELLED"
	ProjectArchived   State = "ARCHIVED"
	ProjectFailed     State = "FAILED"
)

// kindStates lists each enumeration in display order.
var kindStates = map[Kind][]State{
	KindTask: {
		TaskBacklog, TaskInAnalysis, TaskInProgress,
		TaskBlocked, TaskCancelled, TaskCompleted,
	},
	KindProject: {
		ProjectPending, ProjectPlanning, ProjectInProgress, ProjectOnHold,
		ProjectReview, ProjectTesting, ProjectCompleted, ProjectCancelled,
		ProjectArchived, ProjectFailed,
	},
}

var initialStates = map[Kind]State{
	KindTask:    TaskBacklog,
	KindProject: ProjectPending,
}

// Kinds returns every known entity kind.
func Kinds() []Kind {
	return []Kind{KindTask, KindProject}
}

// ValidKind reports whether k is a known entity kind.
func ValidKind(k Kind) bool {
	_, ok := kindStates[k]
	return ok
}

// ParseKind accepts "task"/"project" in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !ValidKind(k) {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// States returns a copy of the enumeration for kind, or nil for an unknown kind.
func States(kind Kind) []State {
	states := kindStates[kind]
	if states == nil {
		return nil
	}
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// ValidState reports whether s belongs to kind's enumeration.
func ValidState(kind Kind, s State) bool {
	return stateIndex(kind, s) >= 0
}

// InitialState is the state an entity of kind is created in.
func InitialState(kind Kind) State {
	return initialStates[kind]
}

// ParseState normalises user input ("in-progress", "In Progress") and
// checks it against kind's enumeration.
func ParseState(kind Kind, s string) (State, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	st := State(norm)
	if !ValidState(kind, st) {
		return "", fmt.Errorf("unknown %s state %q", kind, s)
	}
	return st, nil
}

func stateIndex(kind Kind, s State) int {
	for i, st := range kindStates[kind] {
		if st == s {
			return i
		}
	}
	return -1
}

// Ref addresses a single lifecycle entity.
type Ref struct {
	Kind Kind
	ID   int64
}

// TaskRef is shorthand for a task reference.
func TaskRef(id int64) Ref { return Ref{Kind: KindTask, ID: id} }

// ProjectRef is shorthand for a project reference.
func ProjectRef(id int64) Ref { return Ref{Kind: KindProject, ID: id} }

func (r Ref) String() string {
	return string(r.Kind) + "#" + strconv.FormatInt(r.ID, 10)
}

// Snapshot is what the engine reads before validating a transition.
type Snapshot struct {
	Ref     Ref
	State   State
	Owner   string // Designated owner identity (task assignee, project manager); may be empty.
	Version int64
}
