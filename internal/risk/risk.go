// Package risk derives the overall risk of a call from its most recent
// scored turns and alert events.
//
// The aggregator is stateless between ticks: every snapshot is recomputed
// from the windows it is given, so the label can move in any direction from
// one turn to the next.
package risk

import (
	"math"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/transcript"
)

// Default window sizes.
const (
	DefaultTurnWindow  = 5
	DefaultEventWindow = 5
)

// Thresholds on the rolling average.
const (
	DefaultCriticalBelow = 65
	DefaultWarnBelow     = 80
)

// emptyAverage is reported before any turn has been scored.
const emptyAverage = 100

// Snapshot is the current aggregated assessment of a call.
type Snapshot struct {
	CompositeAvg int              `json:"compositeAvg"`
	OverallLabel transcript.Label `json:"overallLabel"`
}

// Initial is the snapshot of a call with no turns and no events.
var Initial = Snapshot{CompositeAvg: emptyAverage, OverallLabel: transcript.LabelOK}

// Aggregator recomputes snapshots over sliding windows.
type Aggregator struct {
	turnWindow    int
	eventWindow   int
	criticalBelow int
	warnBelow     int
}

// NewAggregator returns an aggregator with the default windows and thresholds.
func NewAggregator() *Aggregator {
	return &Aggregator{
		turnWindow:    DefaultTurnWindow,
		eventWindow:   DefaultEventWindow,
		criticalBelow: DefaultCriticalBelow,
		warnBelow:     DefaultWarnBelow,
	}
}

// WithTurnWindow overrides how many recent turns feed the average.
// Values below 1 are ignored.
func (a *Aggregator) WithTurnWindow(n int) *Aggregator {
	if n > 0 {
		a.turnWindow = n
	}
	return a
}

// WithEventWindow overrides how many recent events are scanned.
// Zero scans every event.
func (a *Aggregator) WithEventWindow(k int) *Aggregator {
	if k >= 0 {
		a.eventWindow = k
	}
	return a
}

// TurnWindow returns the configured turn window.
func (a *Aggregator) TurnWindow() int { return a.turnWindow }

// EventWindow returns the configured event window; 0 means all events.
func (a *Aggregator) EventWindow() int { return a.eventWindow }

// Recompute derives a snapshot. turns and events may be full histories;
// only their tails are considered.
func (a *Aggregator) Recompute(turns []transcript.ScoredTurn, events []eventlog.Event) Snapshot {
	turns = tail(turns, a.turnWindow)
	events = tail(events, a.eventWindow)

	avg := emptyAverage
	if len(turns) > 0 {
		sum := 0
		for _, t := range turns {
			sum += t.CompositeScore
		}
		avg = int(math.Floor(float64(sum)/float64(len(turns)) + 0.5))
	}

	major := false
	for _, ev := range events {
		if ev.Severity == eventlog.SeverityMajor {
			major = true
			break
		}
	}

	label := transcript.LabelOK
	switch {
	case avg < a.criticalBelow || major:
		label = transcript.LabelCritical
	case avg < a.warnBelow || len(events) > 0:
		label = transcript.LabelWarn
	}

	return Snapshot{CompositeAvg: avg, OverallLabel: label}
}

// tail returns the last n elements of s; n <= 0 returns s unchanged.
func tail[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
