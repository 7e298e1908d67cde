package controller

import (
	"time"

	m "github.com/mouse-blink/autocov/internal/model"
)

// Message types.
type tickMsg time.Time

type stateMsg struct {
	state m.State
}

type measuredMsg struct {
	ratio float64
}

type targetsMsg struct {
	iteration int
	targets   []m.Target
}

type candidateMsg struct {
	candidate m.Candidate
}

type iterationMsg struct {
	record m.IterationRecord
}

type reportMsg struct {
	report m.Report
}

type graphMsg struct {
	coverage float64
	graph    m.Graph
}

// List item types.
type targetItem struct {
	rank   int
	id     string
	scopes string
	size   int
	macro  bool
}

func (t targetItem) FilterValue() string {
	return t.id + " " + t.scopes
}

type candidateItem struct {
	file   string
	target string
	status string
	reason string
	detail string
	source string
}

func (c candidateItem) FilterValue() string {
	return c.file + " " + c.target + " " + c.status + " " + c.reason
}

func newCandidateItem(c m.Candidate) candidateItem {
	item := candidateItem{
		file:   string(c.RelPath()),
		target: string(c.TargetID),
		status: string(c.Status),
		reason: string(c.Reason),
		detail: c.Detail,
		source: string(c.Source),
	}

	return item
}

func newTargetItems(targets []m.Target) []targetItem {
	items := make([]targetItem, 0, len(targets))

	for i, t := range targets {
		items = append(items, targetItem{
			rank:   i + 1,
			id:     string(t.ID),
			scopes: targetScopes(t),
			size:   t.Size(),
			macro:  t.IsMacro(),
		})
	}

	return items
}
