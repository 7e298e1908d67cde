package controller

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "github.com/mouse-blink/autocov/internal/model"
)

// candidateDelegate is the delegate for rendering judged candidates in the list.
type candidateDelegate struct {
	offset int
}

func (d candidateDelegate) Height() int  { return 1 }
func (d candidateDelegate) Spacing() int { return 0 }
func (d candidateDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

func (d candidateDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	c, ok := item.(candidateItem)
	if !ok {
		return
	}

	fileWidth := m.Width() - 32 // status, reason and spacing

	status := statusStyle(c.status).Width(10)
	reason := lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Width(18)
	file := lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	display := truncateToWidth(c.file, fileWidth)

	if index == m.Index() {
		status = selectedStyle.Width(10)
		reason = selectedStyle.Width(18)
		file = selectedStyle
		display = animateScroll(c.file, fileWidth, d.offset)
	}

	line := fmt.Sprintf("%s  %s  %s",
		status.Render(c.status),
		reason.Render(c.reason),
		file.Render(display),
	)
	_, _ = fmt.Fprint(w, line)
}

// runModel follows a run from the first measurement to its report.
type runModel struct {
	width          int
	height         int
	progressBar    progress.Model
	threshold      float64
	initial        float64
	coverage       float64
	measured       bool
	state          m.State
	iteration      int
	targets        []targetItem
	accepted       int
	rejected       int
	results        []candidateItem
	resultsList    list.Model
	delegate       candidateDelegate
	animOffset     int
	lastSelected   int
	showSource     bool
	selectedSource string
	selectedPath   string
	report         *m.Report
}

func newRunModel(threshold float64) runModel {
	prog := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	delegate := candidateDelegate{}
	resultsList := list.New([]list.Item{}, delegate, 80, 20)
	resultsList.SetShowPagination(false)
	resultsList.SetShowFilter(true)
	resultsList.SetShowHelp(false)
	resultsList.SetShowTitle(false)
	resultsList.SetShowStatusBar(false)
	resultsList.FilterInput.Placeholder = "Filter candidates…"

	return runModel{
		progressBar:  prog,
		threshold:    threshold,
		state:        m.StateIdle,
		resultsList:  resultsList,
		delegate:     delegate,
		lastSelected: -1,
	}
}

func (rm runModel) Init() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (rm runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		rm = rm.handleWindowSize(msg)

	case tea.KeyMsg:
		rm, cmd = rm.handleKeyMsg(msg)

	case tickMsg:
		return rm.handleTickMsg(msg)

	case stateMsg:
		rm.state = msg.state

	case measuredMsg:
		if !rm.measured {
			rm.initial = msg.ratio
			rm.measured = true
		}

		rm.coverage = msg.ratio

	case targetsMsg:
		rm.iteration = msg.iteration
		rm.targets = newTargetItems(msg.targets)

	case candidateMsg:
		rm = rm.handleCandidate(msg)

	case iterationMsg:
		rm.coverage = msg.record.CoverageAfter
		rm.targets = nil

	case reportMsg:
		report := msg.report
		rm.report = &report
		rm.state = report.State
		rm.coverage = report.FinalCoverage
	}

	return rm, cmd
}

func (rm runModel) finished() bool {
	return rm.report != nil
}

// progressRatio is the share of the way from the initial coverage to the threshold.
func (rm runModel) progressRatio() float64 {
	span := rm.threshold - rm.initial
	if span <= 0 {
		return 1
	}

	return min(max((rm.coverage-rm.initial)/span, 0), 1)
}

func (rm runModel) handleCandidate(msg candidateMsg) runModel {
	item := newCandidateItem(msg.candidate)
	if msg.candidate.Status == m.CandidateAccepted {
		rm.accepted++
	} else {
		rm.rejected++
	}

	rm.results = append(rm.results, item)

	items := make([]list.Item, 0, len(rm.results))
	for _, r := range rm.results {
		items = append(items, r)
	}

	rm.resultsList.SetItems(items)

	return rm
}

func (rm runModel) View() string {
	if !rm.measured && !rm.finished() {
		return "Measuring coverage…\n"
	}

	title := titleStyle.Render("AutoCov")
	if rm.finished() {
		title = titleStyle.Render(fmt.Sprintf("AutoCov %s", strings.ToUpper(string(rm.state))))
	}

	summary := summaryStyle.Render(fmt.Sprintf(
		"Coverage: %s / %s  •  Iteration: %s  •  Accepted: %s  •  Rejected: %s  •  %s",
		accentStyle.Render(formatPercent(rm.coverage)),
		accentStyle.Render(formatPercent(rm.threshold)),
		accentStyle.Render(fmt.Sprintf("%d", rm.iteration)),
		accentStyle.Render(fmt.Sprintf("%d", rm.accepted)),
		accentStyle.Render(fmt.Sprintf("%d", rm.rejected)),
		accentStyle.Render(string(rm.state)),
	))

	progressView := lipgloss.NewStyle().Padding(0, 2).Render(rm.progressBar.ViewAs(rm.progressRatio()))

	sections := []string{title, summary, progressView}

	if rm.finished() {
		sections = append(sections, rm.renderReport())
	} else {
		sections = append(sections, rm.renderTargetBox())
	}

	sections = append(sections, rm.renderResultsBox())

	footer := "Press q to quit"
	if rm.finished() {
		footer = "↑/k up • ↓/j down • / filter • enter show test • q quit"
	}

	sections = append(sections, footerStyle.Width(rm.width).Render(footer))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (rm runModel) renderTargetBox() string {
	lines := make([]string, 0, len(rm.targets))
	availableWidth := rm.width - 10

	for _, t := range rm.targets {
		lines = append(lines, fmt.Sprintf("%s %s",
			lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(fmt.Sprintf("%4d", t.size)),
			lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Render(truncateToWidth(t.id, availableWidth)),
		))
	}

	if len(lines) == 0 {
		lines = append(lines, "idle")
	}

	return boxStyle.Margin(1, 1, 1, 0).Width(max(rm.width-4, 20)).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (rm runModel) renderReport() string {
	r := rm.report

	lines := []string{
		fmt.Sprintf("Stopped: %s", r.StopReason),
		fmt.Sprintf("Coverage: %s -> %s", formatPercent(rm.initial), formatPercent(r.FinalCoverage)),
	}

	if r.TopRejection != "" {
		lines = append(lines, fmt.Sprintf("Most rejections: %s", r.TopRejection))
	}

	if r.Err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(r.Err.Error()))
	}

	return boxStyle.Margin(1, 1, 1, 0).Width(max(rm.width-4, 20)).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (rm runModel) renderResultsBox() string {
	listWidth := rm.width - 4
	sourceBox := rm.renderSourceBox(listWidth)

	listHeight := max(rm.height-16-lipgloss.Height(sourceBox), 5)

	rm.resultsList.SetHeight(listHeight)
	rm.resultsList.SetWidth(listWidth)

	headers := headerStyle.Width(listWidth).Render(fmt.Sprintf("%-10s  %-18s  %s", "Status", "Reason", "File"))

	resultsBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headers, rm.resultsList.View()))
	if sourceBox == "" {
		return resultsBox
	}

	return lipgloss.JoinVertical(lipgloss.Left, resultsBox, sourceBox)
}

func (rm runModel) renderSourceBox(width int) string {
	if !rm.showSource || strings.TrimSpace(rm.selectedSource) == "" {
		return ""
	}

	lines := strings.Split(strings.TrimSpace(rm.selectedSource), "\n")

	maxLines := min(max(rm.height/3, 6), 20)
	if len(lines) > maxLines {
		lines = append(lines[:maxLines-1], "…")
	}

	contentWidth := max(width-4, 10)
	for i, line := range lines {
		lines[i] = truncateToWidth(strings.ReplaceAll(line, "\t", "    "), contentWidth)
	}

	header := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true).
		Render(truncateToWidth("Test • "+rm.selectedPath, contentWidth))

	return boxStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, header, strings.Join(lines, "\n")))
}

func (rm runModel) handleKeyMsg(msg tea.KeyMsg) (runModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "q", "ctrl+c":
		return rm, tea.Quit
	case "enter", " ":
		if rm.finished() {
			rm.toggleSelectedSource()
		}

		return rm, nil
	}

	if !rm.finished() {
		return rm, nil
	}

	rm.resultsList, cmd = rm.resultsList.Update(msg)

	// Detect selection change to reset animation
	if rm.resultsList.Index() != rm.lastSelected {
		rm.lastSelected = rm.resultsList.Index()
		rm.animOffset = 0
		rm.delegate.offset = 0
		rm.resultsList.SetDelegate(rm.delegate)
		rm.showSource = false
	}

	return rm, cmd
}

func (rm *runModel) toggleSelectedSource() {
	item, ok := rm.resultsList.SelectedItem().(candidateItem)
	if !ok {
		return
	}

	if rm.showSource && rm.selectedPath == item.file {
		rm.showSource = false
		return
	}

	rm.showSource = true
	rm.selectedPath = item.file

	rm.selectedSource = item.source
	if item.detail != "" {
		rm.selectedSource = "// " + item.reason + ": " + firstLine(item.detail) + "\n" + item.source
	}
}

func (rm runModel) handleWindowSize(msg tea.WindowSizeMsg) runModel {
	rm.width = msg.Width
	rm.height = msg.Height
	rm.progressBar.Width = max(rm.width-8, 20)

	return rm
}

func (rm runModel) handleTickMsg(_ tickMsg) (runModel, tea.Cmd) {
	if rm.finished() && rm.resultsList.FilterState() != list.Filtering {
		rm.animOffset++
		rm.delegate.offset = rm.animOffset
		rm.resultsList.SetDelegate(rm.delegate)
	}

	return rm, tea.Tick(time.Millisecond*150, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
