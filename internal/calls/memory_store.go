package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/transcript"
)

// MemoryStore is an in-memory implementation of Store for development and tests
type MemoryStore struct {
	mu     sync.RWMutex
	calls  map[string]*Call
	turns  map[string][]transcript.ScoredTurn
	events map[string][]eventlog.Event
}

// NewMemoryStore creates a new in-memory call store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:  make(map[string]*Call),
		turns:  make(map[string][]transcript.ScoredTurn),
		events: make(map[string][]eventlog.Event),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateCall(_ context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[call.CallID]; ok {
		return ErrCallExists
	}
	m.calls[call.CallID] = call.clone()
	return nil
}

func (m *MemoryStore) GetCall(_ context.Context, id string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	call, ok := m.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	return call.clone(), nil
}

func (m *MemoryStore) ListCalls(_ context.Context, filter ListFilter) ([]*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Call
	for _, call := range m.calls {
		if filter.Status != "" && call.Status != filter.Status {
			continue
		}
		if !filter.After.After(call.CreatedAt, call.CallID) {
			continue
		}
		out = append(out, call.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID > out[j].CallID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) EndCall(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	if call.Status == StatusEnded {
		return ErrCallEnded
	}
	call.Status = StatusEnded
	call.EndedAt = &at
	call.UpdatedAt = at
	return nil
}

func (m *MemoryStore) AppendRecords(_ context.Context, records []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if _, ok := m.calls[rec.CallID]; !ok {
			return ErrCallNotFound
		}
	}
	for _, rec := range records {
		call := m.calls[rec.CallID]
		m.turns[rec.CallID] = append(m.turns[rec.CallID], rec.Turn.Clone())
		m.events[rec.CallID] = append(m.events[rec.CallID], rec.Events...)

		call.Risk = rec.Risk
		call.TurnCount = len(m.turns[rec.CallID])
		call.EventCount = len(m.events[rec.CallID])
		call.NextTurnNumber = rec.Turn.TurnNumber + 1
		call.UpdatedAt = rec.RecordedAt
	}
	return nil
}

func (m *MemoryStore) ListTurns(_ context.Context, callID string) ([]transcript.ScoredTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.calls[callID]; !ok {
		return nil, ErrCallNotFound
	}
	turns := m.turns[callID]
	out := make([]transcript.ScoredTurn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, callID string) ([]eventlog.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.calls[callID]; !ok {
		return nil, ErrCallNotFound
	}
	return append([]eventlog.Event{}, m.events[callID]...), nil
}
