// Package calls runs many concurrent call evaluations, one engine per call.
//
// The Service owns the call lifecycle (start, submit turns, end), persists an
// audit trail of scored turns and events through a Store, and forwards every
// result to an optional EventEmitter for live consumers.
package calls

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/callwatch/internal/engine"
	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/pagination"
	"github.com/mbd888/callwatch/internal/risk"
	"github.com/mbd888/callwatch/internal/transcript"
)

var (
	ErrCallNotFound  = errors.New("call not found")
	ErrCallExists    = errors.New("call already exists")
	ErrCallEnded     = errors.New("call has ended")
	ErrTooManyCalls  = errors.New("too many active calls")
	ErrInvalidCallID = errors.New("invalid call id")
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Call is a call and its latest evaluation summary.
type Call struct {
	transcript.CallMeta
	Status         Status        `json:"status"`
	Risk           risk.Snapshot `json:"risk"`
	TurnCount      int           `json:"turnCount"`
	EventCount     int           `json:"eventCount"`
	NextTurnNumber int           `json:"nextTurnNumber"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
}

// IsEnded reports whether the call no longer accepts turns.
func (c *Call) IsEnded() bool { return c.Status == StatusEnded }

func (c *Call) clone() *Call {
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// Record is the audit entry written for one accepted turn.
type Record struct {
	CallID     string
	Turn       transcript.ScoredTurn
	Events     []eventlog.Event
	Risk       risk.Snapshot
	RecordedAt time.Time
}

// ListFilter narrows ListCalls. Results are newest first.
type ListFilter struct {
	Status Status // empty for all
	After  *pagination.Cursor
	Limit  int
}

// Store persists calls and their audit trail.
type Store interface {
	CreateCall(ctx context.Context, call *Call) error
	GetCall(ctx context.Context, id string) (*Call, error)
	ListCalls(ctx context.Context, filter ListFilter) ([]*Call, error)
	EndCall(ctx context.Context, id string, at time.Time) error

	// AppendRecords stores scored turns and their events and refreshes the
	// owning calls' summaries. Records for one call arrive in turn order.
	AppendRecords(ctx context.Context, records []*Record) error
	ListTurns(ctx context.Context, callID string) ([]transcript.ScoredTurn, error)
	ListEvents(ctx context.Context, callID string) ([]eventlog.Event, error)
}

// EventEmitter receives every state change for live fan-out.
type EventEmitter interface {
	EmitCallStarted(call *Call)
	EmitTurn(callID string, res *engine.Result)
	EmitCallEnded(call *Call)
}

// RecordSink accepts audit records for asynchronous persistence.
type RecordSink interface {
	Enqueue(rec *Record) bool
}
