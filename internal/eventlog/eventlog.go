// Package eventlog holds the append-only alert log of a single call.
package eventlog

// Severity grades an alert.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Rank orders severities so filters can compare them. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityMajor:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Event is one alert raised by a rule on a specific turn.
type Event struct {
	Seq             int      `json:"seq"`
	TurnNumber      int      `json:"turnNumber"`
	Time            string   `json:"time"`
	Rule            string   `json:"rule"`
	Severity        Severity `json:"severity"`
	SuggestedAction string   `json:"suggestedAction"`
}

// Log is an append-only arena of events. Seq numbers start at 1 and match
// the position of the event in the log.
//
// Log is not safe for concurrent use; the owning engine serializes access.
type Log struct {
	events []Event
}

// New returns an empty log.
func New() *Log { return &Log{} }

// Append records an event and returns it with its sequence number.
func (l *Log) Append(turnNumber int, time, rule string, severity Severity, action string) Event {
	ev := Event{
		Seq:             len(l.events) + 1,
		TurnNumber:      turnNumber,
		Time:            time,
		Rule:            rule,
		Severity:        severity,
		SuggestedAction: action,
	}
	l.events = append(l.events, ev)
	return ev
}

// Len returns the number of events logged so far.
func (l *Log) Len() int { return len(l.events) }

// Snapshot returns a copy of every event in arrival order.
func (l *Log) Snapshot() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Tail returns a copy of the last k events. k <= 0 returns all events.
func (l *Log) Tail(k int) []Event {
	if k <= 0 || k >= len(l.events) {
		return l.Snapshot()
	}
	return append([]Event(nil), l.events[len(l.events)-k:]...)
}

// Since returns a copy of the events with Seq greater than seq.
func (l *Log) Since(seq int) []Event {
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.events) {
		return []Event{}
	}
	return append([]Event(nil), l.events[seq:]...)
}
