package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue      = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	clrCyan      = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	clrWhite     = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#DDDDDD"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

var stateColors = map[lifecycle.State]lipgloss.TerminalColor{
	lifecycle.TaskBacklog:    clrWhite,
	lifecycle.TaskInAnalysis: clrCyan,
	lifecycle.TaskInProgress: clrBlue,
	lifecycle.TaskBlocked:    clrRed,
	lifecycle.TaskCompleted:  clrGreen,
	lifecycle.TaskCancelled:  clrDim,
}

// --- Styles ---
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle   = lipgloss.NewStyle().Foreground(clrDim)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1)

	columnActiveStyle = columnStyle.BorderForeground(clrHighlight)

	cardSelectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrHighlight).
			Padding(1, 2).
			Width(60)

	statusStyle = lipgloss.NewStyle().Foreground(clrGreen).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.screen {
	case screenBoard:
		content = m.viewBoard()
	case screenDetail:
		content = m.viewDetail()
	}

	if m.popup != popupNone {
		content = m.overlayPopup(content)
	}
	return content
}

// --- Board ---

func (m Model) viewBoard() string {
	var b strings.Builder

	total := 0
	for _, col := range m.columns {
		total += len(col)
	}
	header := titleStyle.Render("taskgate board")
	header += dimStyle.Render(fmt.Sprintf("  %d tasks, acting as %s", total, m.principal.Identity))
	b.WriteString(header + "\n\n")

	if total == 0 {
		b.WriteString(dimStyle.Render("  No tasks. Create one with: taskgate task create \"title\"") + "\n")
	} else {
		b.WriteString(m.renderColumns() + "\n")
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(renderFooter([]struct{ key, desc string }{
		{"←↓↑→", "navigate"},
		{"enter", "details"},
		{"m", "move"},
		{"R", "refresh"},
		{"q", "quit"},
	}))
	return b.String()
}

func (m Model) renderColumns() string {
	n := len(m.states)
	width := 24
	if m.width > 0 {
		width = max(14, m.width/n-4)
	}
	height := 0
	for _, col := range m.columns {
		height = max(height, len(col))
	}

	cols := make([]string, n)
	for i, s := range m.states {
		var c strings.Builder
		label := lipgloss.NewStyle().Bold(true).Foreground(stateColors[s]).Render(strings.ReplaceAll(string(s), "_", " "))
		c.WriteString(label + dimStyle.Render(fmt.Sprintf(" %d", len(m.columns[i]))) + "\n")
		for j, t := range m.columns[i] {
			c.WriteString("\n" + m.renderCard(t, width, i == m.cursorCol && j == m.cursorRow))
		}
		// Pad so every column box has the same height.
		c.WriteString(strings.Repeat("\n", (height-len(m.columns[i]))*2))

		style := columnStyle
		if i == m.cursorCol {
			style = columnActiveStyle
		}
		cols[i] = style.Width(width).Render(c.String())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m Model) renderCard(t store.Task, width int, selected bool) string {
	id := lipgloss.NewStyle().Foreground(priorityColor(t.Priority)).Render(fmt.Sprintf("#%d", t.ID))
	title := truncate(t.Title, width-len(fmt.Sprintf("#%d ", t.ID)))
	if selected {
		title = cardSelectedStyle.Render(title)
	}
	detail := ""
	if t.Assignee != "" {
		detail = lipgloss.NewStyle().Foreground(clrCyan).Render("@" + truncate(t.Assignee, width-1))
	}
	return id + " " + title + "\n" + detail
}

func priorityColor(p string) lipgloss.TerminalColor {
	switch p {
	case store.PriorityHigh:
		return clrRed
	case store.PriorityLow:
		return clrSubtle
	default:
		return clrYellow
	}
}

// --- Detail ---

func (m Model) viewDetail() string {
	if m.selected == nil {
		return "No task selected"
	}
	t := m.selected

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("#%d %s", t.ID, t.Title)))
	b.WriteString("  " + dimStyle.Render("esc back") + "\n\n")

	field := func(k, v string) {
		b.WriteString("  " + dimStyle.Render(fmt.Sprintf("%-10s", k)) + v + "\n")
	}
	field("State", lipgloss.NewStyle().Bold(true).Foreground(stateColors[t.State]).Render(string(t.State)))
	field("Priority", lipgloss.NewStyle().Foreground(priorityColor(t.Priority)).Render(t.Priority))
	if t.Assignee != "" {
		field("Assignee", t.Assignee)
	}
	if t.ProjectID != nil {
		field("Project", fmt.Sprintf("#%d", *t.ProjectID))
	}
	field("Version", fmt.Sprintf("%d", t.Version))
	if t.Description != "" {
		field("Desc", t.Description)
	}

	b.WriteString("\n" + lipgloss.NewStyle().Bold(true).Render("  History") + "\n")
	b.WriteString(m.detailVP.View() + "\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(renderFooter([]struct{ key, desc string }{
		{"m", "move"},
		{"↑↓", "scroll"},
		{"esc", "back"},
	}))
	return b.String()
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return dimStyle.Render("  no history")
	}
	var b strings.Builder
	for _, r := range m.history {
		b.WriteString("  " + dimStyle.Render(r.Timestamp.Format("2006-01-02 15:04:05")) + "  ")
		if r.IsCreation() {
			b.WriteString("created in " + string(r.NewState))
		} else {
			b.WriteString(string(*r.OldState) + " -> " + string(r.NewState))
		}
		b.WriteString(dimStyle.Render(" by " + r.Actor))
		if r.Reason != nil {
			b.WriteString(": " + *r.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// --- Popups ---

func (m Model) overlayPopup(bg string) string {
	var popup string
	switch m.popup {
	case popupTargets:
		popup = m.viewTargetsPopup()
	case popupReason:
		popup = m.viewReasonPopup()
	default:
		return bg
	}

	// Place popup in center of screen.
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height,
			lipgloss.Center, lipgloss.Center,
			popup,
			lipgloss.WithWhitespaceChars(" "),
		)
	}
	return popup
}

func (m Model) viewTargetsPopup() string {
	t, _ := m.current()

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(clrHighlight).Render(fmt.Sprintf("Move #%d", t.ID)))
	b.WriteString(dimStyle.Render(" from "+string(t.State)) + "\n\n")

	for i, s := range m.targets {
		line := string(s)
		if m.requiresReason(t.State, s) {
			line += dimStyle.Render("  (reason)")
		}
		if i == m.targetCursor {
			b.WriteString(footerKeyStyle.Render("▸ ") + lipgloss.NewStyle().Bold(true).Foreground(stateColors[s]).Render(line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	b.WriteString("\n" + footerDescStyle.Render("enter move • r add reason • esc cancel"))
	return m.popupBoxStyle().Render(b.String())
}

func (m Model) viewReasonPopup() string {
	t, _ := m.current()

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(clrYellow).Render(
		fmt.Sprintf("#%d: %s -> %s", t.ID, t.State, m.moveTo)) + "\n\n")
	b.WriteString("Reason:\n")
	b.WriteString(m.reasonInput.View() + "\n\n")
	b.WriteString(footerDescStyle.Render("enter submit • esc back"))
	return m.popupBoxStyle().Render(b.String())
}

func (m Model) popupBoxStyle() lipgloss.Style {
	w := 60
	if m.width > 0 {
		w = max(42, min(m.width-12, 84))
	}
	return popupStyle.Width(w)
}

// --- Shared helpers ---

func (m Model) statusLine() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusErr {
		return errorStyle.Render("  " + m.statusMsg)
	}
	return statusStyle.Render("  " + m.statusMsg)
}

func renderFooter(keys []struct{ key, desc string }) string {
	var parts []string
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+" "+footerDescStyle.Render(k.desc))
	}
	return "  " + strings.Join(parts, "  ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
