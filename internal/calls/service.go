package calls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/callwatch/internal/engine"
	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/idgen"
	"github.com/mbd888/callwatch/internal/logging"
	"github.com/mbd888/callwatch/internal/metrics"
	"github.com/mbd888/callwatch/internal/pagination"
	"github.com/mbd888/callwatch/internal/risk"
	"github.com/mbd888/callwatch/internal/rules"
	"github.com/mbd888/callwatch/internal/syncutil"
	"github.com/mbd888/callwatch/internal/traces"
	"github.com/mbd888/callwatch/internal/transcript"
	"github.com/mbd888/callwatch/internal/validation"
)

// session pairs a call with the engine evaluating it.
type session struct {
	engine *engine.Engine
	call   *Call // guarded by Service.mu
}

// Service manages call sessions. Each call gets its own engine; calls share
// nothing except the read-only rule catalog.
type Service struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	starting  map[string]bool // ids reserved while their store insert runs
	locks     *syncutil.KeyedLocks // orders records and emits per call
	active    int
	store     Store
	sink      RecordSink
	events    EventEmitter
	rules     *rules.Evaluator
	aggWindow [2]int // turn window, event window
	maxActive int
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a call service backed by store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		sessions:  make(map[string]*session),
		starting:  make(map[string]bool),
		locks:     syncutil.NewKeyedLocks(0),
		store:     store,
		rules:     rules.NewEvaluator(),
		aggWindow: [2]int{risk.DefaultTurnWindow, risk.DefaultEventWindow},
		maxActive: 1000,
		logger:    logger,
		now:       time.Now,
	}
}

// WithRecorder routes audit records through an asynchronous sink instead
// of writing them inline.
func (s *Service) WithRecorder(sink RecordSink) *Service {
	s.sink = sink
	return s
}

// WithEvents adds a live event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithRules replaces the rule evaluator shared by all calls.
func (s *Service) WithRules(r *rules.Evaluator) *Service {
	s.rules = r
	return s
}

// WithRiskWindows sets the turn and event windows for new calls.
func (s *Service) WithRiskWindows(turns, events int) *Service {
	s.aggWindow = [2]int{turns, events}
	return s
}

// WithMaxActiveCalls caps concurrently active calls.
func (s *Service) WithMaxActiveCalls(n int) *Service {
	if n > 0 {
		s.maxActive = n
	}
	return s
}

// StartRequest describes a new call.
type StartRequest struct {
	CallID       string    `json:"callId"`
	CustomerName string    `json:"customerName"`
	StartedAt    time.Time `json:"startedAt"`
	Timezone     string    `json:"timezone"`
}

// Start registers a call and creates its engine.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Call, error) {
	id := strings.TrimSpace(req.CallID)
	if id == "" {
		id = idgen.CallID()
	}
	if !validation.IsValidCallID(id) {
		return nil, ErrInvalidCallID
	}

	now := s.now().UTC()
	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	call := &Call{
		CallMeta: transcript.CallMeta{
			CallID:       id,
			CustomerName: validation.SanitizeString(req.CustomerName, 200),
			StartedAt:    startedAt,
			Timezone:     validation.SanitizeString(req.Timezone, 64),
		},
		Status:         StatusActive,
		Risk:           risk.Initial,
		NextTurnNumber: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Reserve the id and a capacity slot, then insert without holding the
	// service lock so a slow store does not stall other calls.
	s.mu.Lock()
	if _, ok := s.sessions[id]; ok || s.starting[id] {
		s.mu.Unlock()
		return nil, ErrCallExists
	}
	if s.active >= s.maxActive {
		s.mu.Unlock()
		return nil, ErrTooManyCalls
	}
	s.starting[id] = true
	s.active++
	s.mu.Unlock()

	err := s.store.CreateCall(ctx, call)

	s.mu.Lock()
	delete(s.starting, id)
	if err != nil {
		s.active--
		s.mu.Unlock()
		return nil, err
	}
	s.sessions[id] = &session{engine: s.newEngine(id), call: call}
	out := call.clone()
	s.mu.Unlock()

	metrics.ActiveCalls.Inc()
	logging.L(logging.WithCallID(ctx, id)).Info("call started", "customer", call.CustomerName)
	if s.events != nil {
		s.events.EmitCallStarted(out.clone())
	}
	return out, nil
}

// Submit evaluates one turn of an active call.
func (s *Service) Submit(ctx context.Context, callID string, turn transcript.Turn) (*engine.Result, error) {
	ctx, span := traces.StartSpan(ctx, "calls.submit_turn", traces.CallID(callID), traces.TurnNumber(turn.TurnNumber))
	defer span.End()

	sess, err := s.session(ctx, callID)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, callID)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	ended := sess.call.IsEnded()
	s.mu.RUnlock()
	if ended {
		metrics.TurnsRejectedTotal.WithLabelValues("ended").Inc()
		traces.Fail(span, ErrCallEnded)
		return nil, ErrCallEnded
	}

	start := time.Now()
	res, err := sess.engine.Submit(ctx, turn)
	metrics.TurnProcessingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		traces.Fail(span, err)
		return nil, err
	}

	metrics.TurnsScoredTotal.WithLabelValues(string(res.Turn.Label)).Inc()
	for _, ev := range res.Events {
		metrics.AlertsTotal.WithLabelValues(ev.Rule, string(ev.Severity)).Inc()
	}
	if res.PrevRisk.OverallLabel != res.Risk.OverallLabel {
		metrics.RiskTransitionsTotal.WithLabelValues(string(res.PrevRisk.OverallLabel), string(res.Risk.OverallLabel)).Inc()
	}
	span.SetAttributes(
		traces.Score(res.Turn.CompositeScore),
		traces.Label(string(res.Turn.Label)),
		traces.AlertCount(len(res.Events)),
		traces.RiskLabel(string(res.Risk.OverallLabel)),
	)

	now := s.now().UTC()
	s.mu.Lock()
	sess.call.Risk = res.Risk
	sess.call.TurnCount++
	sess.call.EventCount += len(res.Events)
	sess.call.NextTurnNumber = res.Turn.TurnNumber + 1
	sess.call.UpdatedAt = now
	s.mu.Unlock()

	s.record(ctx, &Record{
		CallID:     callID,
		Turn:       res.Turn.Clone(),
		Events:     append([]eventlog.Event(nil), res.Events...),
		Risk:       res.Risk,
		RecordedAt: now,
	})

	if s.events != nil {
		s.events.EmitTurn(callID, res)
	}
	return res, nil
}

// End stops a call from accepting turns. Its history and final risk
// snapshot stay readable.
func (s *Service) End(ctx context.Context, callID string) (*Call, error) {
	sess, err := s.session(ctx, callID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, callID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now().UTC()
	s.mu.Lock()
	if sess.call.IsEnded() {
		s.mu.Unlock()
		return nil, ErrCallEnded
	}
	if err := s.store.EndCall(ctx, callID, now); err != nil && !errors.Is(err, ErrCallEnded) {
		s.mu.Unlock()
		return nil, err
	}
	sess.call.Status = StatusEnded
	sess.call.EndedAt = &now
	sess.call.UpdatedAt = now
	s.active--
	out := sess.call.clone()
	s.mu.Unlock()

	metrics.ActiveCalls.Dec()
	logging.L(logging.WithCallID(ctx, callID)).Info("call ended",
		"turns", out.TurnCount,
		"events", out.EventCount,
		"risk", out.Risk.OverallLabel,
	)
	if s.events != nil {
		s.events.EmitCallEnded(out.clone())
	}
	return out, nil
}

// Get returns a call with its live summary.
func (s *Service) Get(ctx context.Context, callID string) (*Call, error) {
	sess, err := s.session(ctx, callID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess.call.clone(), nil
}

// ListOptions controls List.
type ListOptions struct {
	Status Status
	Limit  int
	Cursor string
}

// Page is one page of calls, newest first.
type Page struct {
	Calls      []*Call `json:"calls"`
	NextCursor string  `json:"nextCursor,omitempty"`
	HasMore    bool    `json:"hasMore"`
}

// List returns calls newest first. Calls held in memory report their live
// summary; others report what the store last recorded.
func (s *Service) List(ctx context.Context, opts ListOptions) (*Page, error) {
	cursor, err := pagination.Decode(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.ClampLimit(opts.Limit)

	items, err := s.store.ListCalls(ctx, ListFilter{Status: opts.Status, After: cursor, Limit: limit + 1})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	for i, c := range items {
		if sess, ok := s.sessions[c.CallID]; ok {
			items[i] = sess.call.clone()
		}
	}
	s.mu.RUnlock()

	page, next, more := pagination.ComputePage(items, limit, func(c *Call) (time.Time, string) {
		return c.CreatedAt, c.CallID
	})
	if page == nil {
		page = []*Call{}
	}
	return &Page{Calls: page, NextCursor: next, HasMore: more}, nil
}

// Turns returns the scored turns with a number greater than after.
func (s *Service) Turns(ctx context.Context, callID string, after int) ([]transcript.ScoredTurn, error) {
	sess, err := s.session(ctx, callID)
	if err != nil {
		return nil, err
	}
	return sess.engine.TurnsAfter(after), nil
}

// Events returns the events with a sequence number greater than afterSeq.
func (s *Service) Events(ctx context.Context, callID string, afterSeq int) ([]eventlog.Event, error) {
	sess, err := s.session(ctx, callID)
	if err != nil {
		return nil, err
	}
	return sess.engine.EventsSince(afterSeq), nil
}

// Risk returns the current risk snapshot of a call.
func (s *Service) Risk(ctx context.Context, callID string) (risk.Snapshot, error) {
	sess, err := s.session(ctx, callID)
	if err != nil {
		return risk.Snapshot{}, err
	}
	return sess.engine.Snapshot(), nil
}

// Rules returns the rule catalog.
func (s *Service) Rules() []rules.Definition {
	return s.rules.Catalog()
}

// ActiveCalls returns the number of calls accepting turns.
func (s *Service) ActiveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Service) newEngine(callID string) *engine.Engine {
	agg := risk.NewAggregator().WithTurnWindow(s.aggWindow[0]).WithEventWindow(s.aggWindow[1])
	return engine.New(callID, engine.WithRules(s.rules), engine.WithAggregator(agg))
}

// session returns the in-memory session for callID, restoring it from the
// store when the process has restarted since the call began.
func (s *Service) session(ctx context.Context, callID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[callID]
	pending := s.starting[callID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}
	if pending || !validation.IsValidCallID(callID) {
		return nil, ErrCallNotFound
	}

	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	eng, err := s.restore(ctx, callID)
	if err != nil {
		return nil, err
	}
	stats := eng.Stats()
	call.Risk = stats.Risk
	call.TurnCount = stats.Turns
	call.EventCount = stats.Events
	call.NextTurnNumber = stats.NextTurnNumber

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[callID]; ok {
		return existing, nil
	}
	if s.starting[callID] {
		return nil, ErrCallNotFound
	}
	sess = &session{engine: eng, call: call}
	s.sessions[callID] = sess
	if !call.IsEnded() {
		s.active++
		metrics.ActiveCalls.Inc()
	}
	return sess, nil
}

// restore rebuilds an engine by replaying persisted turns. Replay is
// deterministic, so the rebuilt log and snapshot match the originals when
// the audit trail is complete. The recorder is best effort, so missing
// turn numbers are skipped rather than failing the call, and a stored turn
// the engine rejects is dropped from the rebuilt session.
func (s *Service) restore(ctx context.Context, callID string) (*engine.Engine, error) {
	turns, err := s.store.ListTurns(ctx, callID)
	if err != nil {
		return nil, err
	}
	logger := logging.L(logging.WithCallID(ctx, callID))

	eng := s.newEngine(callID)
	missing, rejected := 0, 0
	for _, st := range turns {
		if st.TurnNumber < eng.NextTurnNumber() {
			continue
		}
		missing += eng.SkipTo(st.TurnNumber)
		if _, err := eng.Submit(ctx, st.Turn); err != nil {
			rejected++
			logger.Warn("stored turn not restored", "turn", st.TurnNumber, "error", err)
			eng.SkipTo(st.TurnNumber + 1)
		}
	}
	if missing > 0 || rejected > 0 {
		logger.Warn("call restored with gaps", "turns", len(turns), "missing", missing, "rejected", rejected)
	} else if len(turns) > 0 {
		logger.Info("call restored", "turns", len(turns))
	}
	return eng, nil
}

func (s *Service) record(ctx context.Context, rec *Record) {
	if s.sink != nil {
		if !s.sink.Enqueue(rec) {
			logging.L(logging.WithCallID(ctx, rec.CallID)).Warn("audit record dropped", "turn", rec.Turn.TurnNumber)
		}
		return
	}
	if err := s.store.AppendRecords(ctx, []*Record{rec}); err != nil {
		metrics.RecorderDroppedTotal.Inc()
		logging.L(logging.WithCallID(ctx, rec.CallID)).Error("failed to record turn", "turn", rec.Turn.TurnNumber, "error", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrOutOfSequence):
		return "sequence"
	case errors.Is(err, engine.ErrInvalidTurn):
		return "invalid"
	default:
		return "other"
	}
}
