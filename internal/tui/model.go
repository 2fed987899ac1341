package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

// Engine is the part of the lifecycle engine the board drives.
type Engine interface {
	ApplyTransition(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.Result, error)
	AllowedTargets(ctx context.Context, ref lifecycle.Ref, p lifecycle.Principal) (lifecycle.Snapshot, []lifecycle.State, error)
	Table() *lifecycle.Table
}

// Store is the read side the board renders from.
type Store interface {
	ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error)
	EntityHistory(ctx context.Context, ref lifecycle.Ref) ([]lifecycle.HistoryRecord, error)
}

// screen represents which page the TUI is showing.
type screen int

const (
	screenBoard  screen = iota // Kanban board (main)
	screenDetail               // Task detail with history
)

// popup is an overlay on top of the current screen.
type popup int

const (
	popupNone    popup = iota
	popupTargets       // Pick the next state
	popupReason        // Type the transition reason
)

const refreshInterval = 5 * time.Second

// Model is the top-level bubbletea model.
type Model struct {
	ctx       context.Context
	engine    Engine
	store     Store
	principal lifecycle.Principal
	projectID int64

	width  int
	height int

	screen screen
	popup  popup

	// Board state. Columns follow the task state order.
	states    []lifecycle.State
	columns   [][]store.Task
	cursorCol int
	cursorRow int

	// Detail state.
	selected *store.Task
	history  []lifecycle.HistoryRecord
	detailVP viewport.Model

	// Move flow.
	targets      []lifecycle.State
	targetCursor int
	moveTo       lifecycle.State
	reasonInput  textinput.Model

	statusMsg  string
	statusErr  bool
	statusTime time.Time

	refreshing bool
	quitting   bool
}

// Option customises a Model.
type Option func(*Model)

// WithProject limits the board to one project.
func WithProject(id int64) Option {
	return func(m *Model) { m.projectID = id }
}

// WithReasonLimit caps how many characters the reason prompt accepts.
func WithReasonLimit(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.reasonInput.CharLimit = n
		}
	}
}

// New creates a board acting as p.
func New(ctx context.Context, e Engine, s Store, p lifecycle.Principal, opts ...Option) Model {
	ri := textinput.New()
	ri.Placeholder = "Reason..."
	ri.CharLimit = lifecycle.DefaultReasonMaxLength
	ri.Width = 50

	states := lifecycle.States(lifecycle.KindTask)
	m := Model{
		ctx:         ctx,
		engine:      e,
		store:       s,
		principal:   p,
		screen:      screenBoard,
		states:      states,
		columns:     make([][]store.Task, len(states)),
		detailVP:    viewport.New(80, 20),
		reasonInput: ri,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadTasks(), tickCmd())
}

// --- Messages ---

type tasksLoadedMsg struct {
	tasks []store.Task
	err   error
}

type detailLoadedMsg struct {
	task    store.Task
	history []lifecycle.HistoryRecord
	err     error
}

type targetsLoadedMsg struct {
	ref     lifecycle.Ref
	snap    lifecycle.Snapshot
	targets []lifecycle.State
	err     error
}

type movedMsg struct {
	ref    lifecycle.Ref
	result lifecycle.Result
	err    error
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// --- Commands ---

func (m Model) loadTasks() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.store.ListTasks(m.ctx, store.TaskFilter{ProjectID: m.projectID})
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func (m Model) loadDetail(t store.Task) tea.Cmd {
	return func() tea.Msg {
		recs, err := m.store.EntityHistory(m.ctx, t.Ref())
		return detailLoadedMsg{task: t, history: recs, err: err}
	}
}

func (m Model) loadTargets(ref lifecycle.Ref) tea.Cmd {
	return func() tea.Msg {
		snap, targets, err := m.engine.AllowedTargets(m.ctx, ref, m.principal)
		return targetsLoadedMsg{ref: ref, snap: snap, targets: targets, err: err}
	}
}

func (m Model) applyMove(ref lifecycle.Ref, to lifecycle.State, reason string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.engine.ApplyTransition(m.ctx, lifecycle.TransitionRequest{
			Ref:       ref,
			To:        to,
			Principal: m.principal,
			Reason:    reason,
		})
		return movedMsg{ref: ref, result: res, err: err}
	}
}

// --- Board helpers ---

func (m *Model) rebuildColumns(tasks []store.Task) {
	for i := range m.columns {
		m.columns[i] = nil
	}
	for _, t := range tasks {
		for i, s := range m.states {
			if t.State == s {
				m.columns[i] = append(m.columns[i], t)
				break
			}
		}
	}
	m.clampCursor()

	// Keep the detail pane in sync with fresh data.
	if m.selected != nil {
		for _, t := range tasks {
			if t.ID == m.selected.ID {
				m.selected = &t
				break
			}
		}
	}
}

func (m *Model) clampCursor() {
	m.cursorCol = max(0, min(m.cursorCol, len(m.columns)-1))
	m.cursorRow = max(0, min(m.cursorRow, len(m.columns[m.cursorCol])-1))
}

// current returns the task under the cursor, or the one in the detail pane.
func (m Model) current() (store.Task, bool) {
	if m.screen == screenDetail && m.selected != nil {
		return *m.selected, true
	}
	col := m.columns[m.cursorCol]
	if m.cursorRow < len(col) {
		return col[m.cursorRow], true
	}
	return store.Task{}, false
}

func (m *Model) setStatus(msg string) {
	m.statusMsg = msg
	m.statusErr = false
	m.statusTime = time.Now()
}

// setError shows err with its lifecycle code when it has one.
func (m *Model) setError(err error) {
	m.statusMsg = errorText(err)
	m.statusErr = true
	m.statusTime = time.Now()
}

func errorText(err error) string {
	if code := lifecycle.ErrorCode(err); code != "" {
		return "[" + string(code) + "] " + strings.TrimPrefix(err.Error(), string(code)+": ")
	}
	return err.Error()
}
