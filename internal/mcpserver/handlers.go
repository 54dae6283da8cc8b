package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/callwatch/internal/transcript"
	"github.com/mbd888/callwatch/pkg/callwatch"
)

// API is the subset of the callwatch client the tools need.
type API interface {
	StartCall(ctx context.Context, req callwatch.StartRequest) (*callwatch.Call, error)
	SubmitTurn(ctx context.Context, callID string, turn callwatch.Turn) (*callwatch.TurnResult, error)
	GetCall(ctx context.Context, callID string) (*callwatch.Call, error)
	Risk(ctx context.Context, callID string) (callwatch.RiskSnapshot, error)
	Events(ctx context.Context, callID string, afterSeq int) ([]callwatch.Event, error)
	Rules(ctx context.Context) ([]callwatch.Rule, error)
	EndCall(ctx context.Context, callID string) (*callwatch.Call, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client API
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client API) *Handlers {
	return &Handlers{client: client}
}

// HandleStartCall registers a call.
func (h *Handlers) HandleStartCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("customer_name", "")
	if name == "" {
		return mcp.NewToolResultError("customer_name is required"), nil
	}

	call, err := h.client.StartCall(ctx, callwatch.StartRequest{
		CallID:       req.GetString("call_id", ""),
		CustomerName: name,
		Timezone:     req.GetString("timezone", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start call: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Call started.\n  Call ID: %s\n  Customer: %s\n  Next turn: %d\n",
		call.CallID, call.CustomerName, call.NextTurnNumber)), nil
}

// HandleSubmitTurn scores the next turn of a call.
func (h *Handlers) HandleSubmitTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := req.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	turn := callwatch.Turn{
		TurnNumber:        req.GetInt("turn_number", 0),
		Timestamp:         req.GetString("timestamp", ""),
		Speaker:           transcript.Speaker(req.GetString("speaker", "")),
		Text:              req.GetString("text", ""),
		Confidence:        req.GetFloat("confidence", -1),
		KeywordMatchScore: req.GetFloat("keyword_match_score", -1),
		Critical:          req.GetBool("critical", false),
		ExpectedIntent:    transcript.Intent(req.GetString("expected_intent", "")),
		RuleTriggered:     req.GetStringSlice("rule_triggered", nil),
	}

	res, err := h.client.SubmitTurn(ctx, callID, turn)
	if err != nil {
		return mcp.NewToolResultError(describeSubmitError(err)), nil
	}

	return mcp.NewToolResultText(formatTurnResult(res)), nil
}

// HandleGetCall returns a call summary.
func (h *Handlers) HandleGetCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := req.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	call, err := h.client.GetCall(ctx, callID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get call: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Call %s (%s)\n", call.CallID, call.Status)
	if call.CustomerName != "" {
		fmt.Fprintf(&sb, "  Customer: %s\n", call.CustomerName)
	}
	fmt.Fprintf(&sb, "  Turns scored: %d\n", call.TurnCount)
	fmt.Fprintf(&sb, "  Alerts: %d\n", call.EventCount)
	fmt.Fprintf(&sb, "  Risk: %s (average %d)\n", call.Risk.OverallLabel, call.Risk.CompositeAvg)
	if !call.IsEnded() {
		fmt.Fprintf(&sb, "  Next turn: %d\n", call.NextTurnNumber)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetCallRisk returns the current risk snapshot.
func (h *Handlers) HandleGetCallRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := req.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	snap, err := h.client.Risk(ctx, callID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get risk: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Call Risk:\n  Label: %s\n  Average score: %d\n", snap.OverallLabel, snap.CompositeAvg)), nil
}

// HandleListCallEvents lists the alerts raised on a call.
func (h *Handlers) HandleListCallEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := req.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	events, err := h.client.Events(ctx, callID, req.GetInt("after_seq", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}

	if len(events) == 0 {
		return mcp.NewToolResultText("No alerts raised."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d alert(s):\n\n", len(events))
	for _, e := range events {
		fmt.Fprintf(&sb, "%s\n", formatEvent(e))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListRules returns the rule catalog.
func (h *Handlers) HandleListRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := h.client.Rules(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list rules: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d rule(s):\n\n", len(rules))
	for i, r := range rules {
		fmt.Fprintf(&sb, "%d. %s [%s] -> %s\n", i+1, r.ID, r.Severity, r.SuggestedAction)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		if r.SourceOnly {
			sb.WriteString("   Raised only when the transcription source flags it.\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEndCall ends a call.
func (h *Handlers) HandleEndCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := req.GetString("call_id", "")
	if callID == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	call, err := h.client.EndCall(ctx, callID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to end call: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Call %s ended after %d turn(s) and %d alert(s).\n  Final risk: %s (average %d)\n",
		call.CallID, call.TurnCount, call.EventCount, call.Risk.OverallLabel, call.Risk.CompositeAvg)), nil
}

// --- Formatting helpers ---

func describeSubmitError(err error) string {
	var apiErr *callwatch.Error
	if !errors.As(err, &apiErr) {
		return fmt.Sprintf("Failed to submit turn: %v", err)
	}
	switch apiErr.Code {
	case callwatch.CodeOutOfSequence:
		return fmt.Sprintf("Turn rejected: expected turn %d, got %d. Resubmit with turn_number %d.",
			apiErr.Expected, apiErr.Got, apiErr.Expected)
	case callwatch.CodeInvalidTurn:
		return fmt.Sprintf("Turn rejected: %s", apiErr.Message)
	case callwatch.CodeCallEnded:
		return "Turn rejected: the call has ended."
	case callwatch.CodeNotFound:
		return "Turn rejected: unknown call_id. Use start_call first."
	default:
		return fmt.Sprintf("Failed to submit turn: %v", err)
	}
}

func formatTurnResult(res *callwatch.TurnResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Turn %d scored %d (%s)\n", res.Turn.TurnNumber, res.Turn.CompositeScore, res.Turn.Label)
	if len(res.Turn.RuleTriggered) > 0 {
		fmt.Fprintf(&sb, "  Rules: %s\n", strings.Join(res.Turn.RuleTriggered, ", "))
	}
	if len(res.Events) > 0 {
		sb.WriteString("\nAlerts:\n")
		for _, e := range res.Events {
			fmt.Fprintf(&sb, "  %s\n", formatEvent(e))
		}
	}
	fmt.Fprintf(&sb, "\nCall risk: %s (average %d)\n", res.Risk.OverallLabel, res.Risk.CompositeAvg)
	return sb.String()
}

func formatEvent(e callwatch.Event) string {
	return fmt.Sprintf("#%d [%s] %s at %s (turn %d): %s",
		e.Seq, e.Severity, e.Rule, e.Time, e.TurnNumber, e.SuggestedAction)
}
