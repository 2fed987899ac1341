package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If popup is active, handle popup keys first.
		if m.popup != popupNone {
			return m.handlePopupKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detailVP.Width = max(20, m.width-4)
		m.detailVP.Height = max(6, m.height-12)
		return m, nil

	case tasksLoadedMsg:
		m.refreshing = false
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.rebuildColumns(msg.tasks)
		return m, nil

	case detailLoadedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		t := msg.task
		m.selected = &t
		m.history = msg.history
		m.detailVP.SetContent(m.renderHistory())
		m.detailVP.GotoBottom()
		m.screen = screenDetail
		return m, nil

	case targetsLoadedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		if len(msg.targets) == 0 {
			if m.engine.Table().Terminal(msg.ref.Kind, msg.snap.State) {
				m.setStatus(fmt.Sprintf("%s is terminal", msg.snap.State))
			} else {
				m.setStatus(fmt.Sprintf("No moves out of %s for %s", msg.snap.State, m.principal.Identity))
			}
			return m, nil
		}
		m.targets = msg.targets
		m.targetCursor = 0
		m.popup = popupTargets
		return m, nil

	case movedMsg:
		m.popup = popupNone
		m.reasonInput.Blur()
		if msg.err != nil {
			m.setError(msg.err)
			return m, m.loadTasks()
		}
		m.setStatus(fmt.Sprintf("%s: %s -> %s", msg.ref, msg.result.From, msg.result.State))
		cmds := []tea.Cmd{m.loadTasks()}
		if m.screen == screenDetail && m.selected != nil && m.selected.ID == msg.ref.ID {
			t := *m.selected
			t.State = msg.result.State
			t.Version = msg.result.Version
			cmds = append(cmds, m.loadDetail(t))
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		// Clear old status messages.
		if m.statusMsg != "" && time.Since(m.statusTime) > 2*refreshInterval {
			m.statusMsg = ""
		}
		if !m.refreshing && m.popup == popupNone {
			m.refreshing = true
			cmds = append(cmds, m.loadTasks())
		}
		return m, tea.Batch(cmds...)
	}

	if m.screen == screenDetail {
		var cmd tea.Cmd
		m.detailVP, cmd = m.detailVP.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.screen == screenBoard || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		return m.goBack()

	case "esc":
		return m.goBack()

	case "m":
		if t, ok := m.current(); ok {
			return m, m.loadTargets(t.Ref())
		}
		return m, nil

	case "R":
		return m, m.loadTasks()
	}

	switch m.screen {
	case screenBoard:
		return m.handleBoardKey(msg)
	case screenDetail:
		var cmd tea.Cmd
		m.detailVP, cmd = m.detailVP.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) goBack() (tea.Model, tea.Cmd) {
	if m.screen == screenDetail {
		m.screen = screenBoard
		m.selected = nil
		m.history = nil
		return m, m.loadTasks()
	}
	return m, nil
}

// --- Board keys ---

func (m Model) handleBoardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		m.cursorRow++
	case "k", "up":
		m.cursorRow--
	case "h", "left":
		m.cursorCol--
	case "l", "right":
		m.cursorCol++
	case "g":
		m.cursorRow = 0
	case "G":
		m.cursorRow = len(m.columns[m.cursorCol]) - 1

	case "enter", " ":
		if t, ok := m.current(); ok {
			return m, m.loadDetail(t)
		}
	}
	m.clampCursor()
	return m, nil
}

// --- Popup keys ---

func (m Model) handlePopupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.popup {
	case popupTargets:
		return m.handleTargetsKey(msg)
	case popupReason:
		return m.handleReasonKey(msg)
	}
	return m, nil
}

func (m Model) handleTargetsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t, ok := m.current()
	if !ok {
		m.popup = popupNone
		return m, nil
	}

	switch msg.String() {
	case "esc", "q":
		m.popup = popupNone
	case "j", "down":
		m.targetCursor = min(m.targetCursor+1, len(m.targets)-1)
	case "k", "up":
		m.targetCursor = max(m.targetCursor-1, 0)

	case "enter", "r":
		m.moveTo = m.targets[m.targetCursor]
		if msg.String() == "r" || m.requiresReason(t.State, m.moveTo) {
			return m.openReason()
		}
		return m, m.applyMove(t.Ref(), m.moveTo, "")
	}
	return m, nil
}

func (m Model) openReason() (tea.Model, tea.Cmd) {
	m.popup = popupReason
	m.reasonInput.Reset()
	m.reasonInput.Focus()
	return m, textinput.Blink
}

func (m Model) handleReasonKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.reasonInput.Blur()
		m.popup = popupTargets
		return m, nil

	case "enter":
		t, ok := m.current()
		if !ok {
			m.popup = popupNone
			return m, nil
		}
		return m, m.applyMove(t.Ref(), m.moveTo, m.reasonInput.Value())
	}

	var cmd tea.Cmd
	m.reasonInput, cmd = m.reasonInput.Update(msg)
	return m, cmd
}

func (m Model) requiresReason(from, to lifecycle.State) bool {
	edge, ok := m.engine.Table().Edge(lifecycle.KindTask, from, to)
	return ok && edge.RequiresReason()
}
