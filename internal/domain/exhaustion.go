package domain

import m "github.com/mouse-blink/autocov/internal/model"

// exhaustionTracker retires targets after a number of consecutive attempted
// iterations without an accepted candidate.
type exhaustionTracker struct {
	limit     int
	misses    map[m.TargetID]int
	exhausted map[m.TargetID]bool
}

func newExhaustionTracker(limit int) *exhaustionTracker {
	return &exhaustionTracker{
		limit:     limit,
		misses:    make(map[m.TargetID]int),
		exhausted: make(map[m.TargetID]bool),
	}
}

// Exhausted reports whether id must not be selected again.
func (e *exhaustionTracker) Exhausted(id m.TargetID) bool {
	return e.exhausted[id]
}

// Record notes the outcome of one attempt at id.
func (e *exhaustionTracker) Record(id m.TargetID, accepted int) {
	if accepted > 0 {
		e.misses[id] = 0
		return
	}

	e.misses[id]++
	if e.misses[id] >= e.limit {
		e.exhausted[id] = true
	}
}

// selectTargets returns up to limit targets in priority order, skipping
// exhausted ones.
func selectTargets(targets []m.Target, tracker *exhaustionTracker, limit int) []m.Target {
	selected := make([]m.Target, 0, limit)

	for _, t := range targets {
		if len(selected) == limit {
			break
		}

		if tracker.Exhausted(t.ID) {
			continue
		}

		selected = append(selected, t)
	}

	return selected
}
