// Package engine evaluates the turns of a single call in arrival order.
//
// An Engine owns the session state of exactly one call: its scored turns,
// its event log and its current risk snapshot. Submit runs the scorer, the
// rule evaluator, the event log and the risk aggregator in that order and
// either applies all of their results or none of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/logging"
	"github.com/mbd888/callwatch/internal/risk"
	"github.com/mbd888/callwatch/internal/rules"
	"github.com/mbd888/callwatch/internal/scoring"
	"github.com/mbd888/callwatch/internal/transcript"
	"github.com/mbd888/callwatch/internal/validation"
)

var (
	ErrOutOfSequence = errors.New("turn out of sequence")
	ErrInvalidTurn   = errors.New("invalid turn")
)

// SequenceError reports a turn whose number is not the next expected one.
type SequenceError struct {
	Expected int
	Got      int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("turn out of sequence: expected %d, got %d", e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error { return ErrOutOfSequence }

// Result is everything produced by one accepted turn.
type Result struct {
	Turn     transcript.ScoredTurn `json:"turn"`
	Events   []eventlog.Event      `json:"events"`
	Risk     risk.Snapshot         `json:"risk"`
	PrevRisk risk.Snapshot         `json:"-"`
}

// Engine is the per-call session. It is safe for concurrent use, but turns
// are still applied strictly one at a time.
type Engine struct {
	mu        sync.Mutex
	callID    string
	scorer    *scoring.Scorer
	rules     *rules.Evaluator
	agg       *risk.Aggregator
	log       *eventlog.Log
	turns     []transcript.ScoredTurn
	next      int
	lastClock int
	snapshot  risk.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithStartTurn sets the first expected turn number (default 1).
func WithStartTurn(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.next = n
		}
	}
}

// WithRules replaces the default rule evaluator.
func WithRules(r *rules.Evaluator) Option {
	return func(e *Engine) { e.rules = r }
}

// WithAggregator replaces the default risk aggregator.
func WithAggregator(a *risk.Aggregator) Option {
	return func(e *Engine) { e.agg = a }
}

// New creates an engine for one call.
func New(callID string, opts ...Option) *Engine {
	e := &Engine{
		callID:   callID,
		scorer:   scoring.New(),
		rules:    rules.NewEvaluator(),
		agg:      risk.NewAggregator(),
		log:      eventlog.New(),
		next:     1,
		snapshot: risk.Initial,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CallID returns the call this engine evaluates.
func (e *Engine) CallID() string { return e.callID }

// Submit validates, scores and evaluates t. On error the session is left
// exactly as it was before the call.
func (e *Engine) Submit(ctx context.Context, t transcript.Turn) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := logging.L(logging.WithCallID(ctx, e.callID))

	if err := t.Validate(); err != nil {
		logger.Warn("turn rejected", "turn", t.TurnNumber, "reason", "invalid", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidTurn, err)
	}
	if t.TurnNumber != e.next {
		err := &SequenceError{Expected: e.next, Got: t.TurnNumber}
		logger.Warn("turn rejected", "turn", t.TurnNumber, "reason", "sequence", "expected", e.next)
		return nil, err
	}
	clock, _ := transcript.ParseClock(t.Timestamp)
	if len(e.turns) > 0 && clock < e.lastClock {
		verrs := validation.ValidationErrors{{
			Field:   "timestamp",
			Message: "must not precede " + transcript.FormatClock(e.lastClock),
		}}
		logger.Warn("turn rejected", "turn", t.TurnNumber, "reason", "invalid", "error", verrs)
		return nil, fmt.Errorf("%w: %w", ErrInvalidTurn, verrs)
	}

	// Nothing below can fail.
	t = t.Clone()
	t.Speaker = t.Speaker.Canonical()

	score, label := e.scorer.Score(t)
	fired := e.rules.Evaluate(t)
	triggered := rules.Union(t.RuleTriggered, fired)
	scored := transcript.NewScoredTurn(t, score, label, triggered)

	events := make([]eventlog.Event, 0, len(triggered))
	for _, def := range e.rules.Resolve(triggered) {
		ev := e.log.Append(t.TurnNumber, t.Timestamp, def.ID, def.Severity, def.SuggestedAction)
		events = append(events, ev)
		logger.Info("alert raised",
			"turn", t.TurnNumber,
			"rule", ev.Rule,
			"severity", ev.Severity,
			"action", ev.SuggestedAction,
		)
	}

	e.turns = append(e.turns, scored)
	e.next = t.TurnNumber + 1
	e.lastClock = clock

	prev := e.snapshot
	e.snapshot = e.agg.Recompute(e.turns, e.log.Tail(e.agg.EventWindow()))

	if prev.OverallLabel != e.snapshot.OverallLabel {
		logger.Info("risk changed", "from", prev.OverallLabel, "to", e.snapshot.OverallLabel, "avg", e.snapshot.CompositeAvg)
	}
	logger.Debug("turn scored", "turn", t.TurnNumber, "score", score, "label", label)

	return &Result{
		Turn:     scored.Clone(),
		Events:   events,
		Risk:     e.snapshot,
		PrevRisk: prev,
	}, nil
}

// ScoredTurns returns a copy of every scored turn in order.
func (e *Engine) ScoredTurns() []transcript.ScoredTurn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneTurns(e.turns)
}

// TurnsAfter returns scored turns whose number is greater than n.
func (e *Engine) TurnsAfter(n int) []transcript.ScoredTurn {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.turns {
		if t.TurnNumber > n {
			return cloneTurns(e.turns[i:])
		}
	}
	return []transcript.ScoredTurn{}
}

// Events returns a copy of the event log.
func (e *Engine) Events() []eventlog.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Snapshot()
}

// EventsSince returns events with Seq greater than seq.
func (e *Engine) EventsSince(seq int) []eventlog.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Since(seq)
}

// Snapshot returns the current risk snapshot.
func (e *Engine) Snapshot() risk.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// NextTurnNumber returns the turn number the engine expects next.
func (e *Engine) NextTurnNumber() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// SkipTo moves the expected turn number forward to n, leaving every turn
// before n unscored. It reports how many turn numbers were skipped and
// never moves backwards.
func (e *Engine) SkipTo(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= e.next {
		return 0
	}
	skipped := n - e.next
	e.next = n
	return skipped
}

// Stats summarizes the session.
type Stats struct {
	Turns          int           `json:"turns"`
	Events         int           `json:"events"`
	NextTurnNumber int           `json:"nextTurnNumber"`
	Risk           risk.Snapshot `json:"risk"`
}

// Stats returns a consistent summary of the session.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Turns:          len(e.turns),
		Events:         e.log.Len(),
		NextTurnNumber: e.next,
		Risk:           e.snapshot,
	}
}

func cloneTurns(in []transcript.ScoredTurn) []transcript.ScoredTurn {
	out := make([]transcript.ScoredTurn, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
