package controller

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// targetDelegate renders one prioritized target per line.
type targetDelegate struct {
	offset int
}

func (d targetDelegate) Height() int  { return 1 }
func (d targetDelegate) Spacing() int { return 0 }
func (d targetDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

func (d targetDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	target, ok := item.(targetItem)
	if !ok {
		return
	}

	width := m.Width() - 16 // rank (4) + size (6) + spacing

	rankStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(4).Align(lipgloss.Right)
	sizeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true).Width(6).Align(lipgloss.Right)
	idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

	if target.macro {
		idStyle = idStyle.Foreground(lipgloss.Color("5"))
	}

	label := target.id
	if target.scopes != "" {
		label = fmt.Sprintf("%s  %s", target.scopes, target.id)
	}

	display := truncateToWidth(label, width)

	if index == m.Index() {
		rankStyle = selectedStyle.Width(4).Align(lipgloss.Right)
		sizeStyle = selectedStyle.Width(6).Align(lipgloss.Right)
		idStyle = selectedStyle
		display = animateScroll(label, width, d.offset)
	}

	line := fmt.Sprintf("%s  %s  %s",
		rankStyle.Render(fmt.Sprintf("%d", target.rank)),
		sizeStyle.Render(fmt.Sprintf("%d", target.size)),
		idStyle.Render(display),
	)
	_, _ = fmt.Fprint(w, line)
}

// targetsModel shows the prioritized targets of one analysis.
type targetsModel struct {
	width        int
	height       int
	targetList   list.Model
	delegate     targetDelegate
	coverage     float64
	regions      int
	edges        int
	lines        int
	rendered     bool
	animOffset   int
	lastSelected int
}

func newTargetsModel() targetsModel {
	delegate := targetDelegate{}
	targetList := list.New([]list.Item{}, delegate, 80, 20)
	targetList.SetShowPagination(false)
	targetList.SetShowFilter(true)
	targetList.SetShowHelp(false)
	targetList.SetShowTitle(false)
	targetList.SetShowStatusBar(false)
	targetList.FilterInput.Placeholder = "Filter by scope or file…"

	return targetsModel{
		targetList:   targetList,
		delegate:     delegate,
		lastSelected: -1,
	}
}

func (m targetsModel) Init() tea.Cmd {
	return tea.Tick(time.Second/2, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m targetsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.targetList.SetWidth(m.width)

	case tickMsg:
		if m.targetList.FilterState() != list.Filtering && m.rendered {
			m.animOffset++
			m.delegate.offset = m.animOffset
			m.targetList.SetDelegate(m.delegate)
		}

		return m, tea.Tick(time.Millisecond*150, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		m.targetList, cmd = m.targetList.Update(msg)

		// Detect selection change to reset animation
		if m.targetList.Index() != m.lastSelected {
			m.lastSelected = m.targetList.Index()
			m.animOffset = 0
			m.delegate.offset = 0
			m.targetList.SetDelegate(m.delegate)
		}

		return m, cmd

	case graphMsg:
		m = m.handleGraphMsg(msg)
	}

	return m, cmd
}

func (m targetsModel) handleGraphMsg(msg graphMsg) targetsModel {
	m.coverage = msg.coverage
	m.regions = len(msg.graph.Regions)
	m.edges = len(msg.graph.Edges)
	m.lines = 0

	targets := newTargetItems(msg.graph.Targets)
	items := make([]list.Item, 0, len(targets))

	for _, t := range targets {
		items = append(items, t)
		m.lines += t.size
	}

	m.targetList.SetItems(items)
	m.rendered = true

	if len(items) > 0 && m.lastSelected == -1 {
		m.lastSelected = 0
	}

	return m
}

func (m targetsModel) View() string {
	if !m.rendered {
		return "Measuring coverage…\n"
	}

	title := titleStyle.Render("AutoCov Targets")

	summary := summaryStyle.Render(fmt.Sprintf(
		"Coverage: %s   Targets: %s   Regions: %s   Edges: %s   Uncovered lines: %s",
		accentStyle.Render(formatPercent(m.coverage)),
		accentStyle.Render(fmt.Sprintf("%d", len(m.targetList.Items()))),
		accentStyle.Render(fmt.Sprintf("%d", m.regions)),
		accentStyle.Render(fmt.Sprintf("%d", m.edges)),
		accentStyle.Render(fmt.Sprintf("%d", m.lines)),
	))

	footer := footerStyle.Width(m.width).Render("↑/k up • ↓/j down • g/G top/bottom • / filter • q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		summary,
		m.renderTable(),
		footer,
	)
}

func (m targetsModel) renderTable() string {
	// title, summary, footer, border and headers
	listHeight := max(m.height-9, 5)
	listWidth := m.width - 6

	m.targetList.SetHeight(listHeight)
	m.targetList.SetWidth(listWidth)

	headers := headerStyle.Width(listWidth).Render(fmt.Sprintf("%4s  %6s  %s", "#", "Lines", "Target"))

	return boxStyle.Margin(0, 1).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headers,
			m.targetList.View(),
		),
	)
}
