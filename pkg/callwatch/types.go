// Package callwatch is the Go client for the callwatch HTTP API.
package callwatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/callwatch/internal/calls"
	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/risk"
	"github.com/mbd888/callwatch/internal/rules"
	"github.com/mbd888/callwatch/internal/transcript"
)

// Wire types shared with the server.
type (
	Turn         = transcript.Turn
	ScoredTurn   = transcript.ScoredTurn
	Event        = eventlog.Event
	RiskSnapshot = risk.Snapshot
	Call         = calls.Call
	Rule         = rules.Definition
	StartRequest = calls.StartRequest
	CallPage     = calls.Page
)

// TurnResult is the response to SubmitTurn.
type TurnResult struct {
	Turn   ScoredTurn   `json:"turn"`
	Events []Event      `json:"events"`
	Risk   RiskSnapshot `json:"risk"`
}

// Health is the response of GET /health.
type Health struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	ActiveCalls int       `json:"activeCalls"`
	Timestamp   time.Time `json:"timestamp"`
}

// Error codes returned by the API.
const (
	CodeOutOfSequence = "out_of_sequence"
	CodeInvalidTurn   = "invalid_turn"
	CodeNotFound      = "not_found"
	CodeCallEnded     = "call_ended"
	CodeCallExists    = "call_exists"
)

// Error represents an API error response
type Error struct {
	Status   int    `json:"-"`
	Code     string `json:"error"`
	Message  string `json:"message"`
	Expected int    `json:"expected,omitempty"`
	Got      int    `json:"got,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
