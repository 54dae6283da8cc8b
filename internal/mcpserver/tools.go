package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the callwatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolStartCall = mcp.NewTool("start_call",
	mcp.WithDescription(
		"Register a new collections call for live compliance monitoring. "+
			"Returns the call id to use with submit_turn. Omit call_id to have one assigned."),
	mcp.WithString("customer_name",
		mcp.Required(),
		mcp.Description("Name of the customer on the call")),
	mcp.WithString("call_id",
		mcp.Description("Caller-chosen call id (letters, digits, '-', '_')")),
	mcp.WithString("timezone",
		mcp.Description("IANA timezone of the customer, e.g. 'America/Mexico_City'")),
)

var ToolSubmitTurn = mcp.NewTool("submit_turn",
	mcp.WithDescription(
		"Score the next utterance of a call. Turns must arrive in order starting at 1. "+
			"Returns the composite score (0-100), its label (ok/warn/critical), any compliance alerts "+
			"raised and the updated call risk."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Call id returned by start_call")),
	mcp.WithNumber("turn_number",
		mcp.Required(),
		mcp.Description("Sequence number of this turn (previous + 1)")),
	mcp.WithString("timestamp",
		mcp.Required(),
		mcp.Description("Call-relative time as mm:ss, e.g. '01:25'")),
	mcp.WithString("speaker",
		mcp.Required(),
		mcp.Description("Who spoke"),
		mcp.Enum("Agent", "Customer")),
	mcp.WithString("text",
		mcp.Description("Transcribed utterance")),
	mcp.WithNumber("confidence",
		mcp.Required(),
		mcp.Description("Transcription confidence between 0 and 1")),
	mcp.WithNumber("keyword_match_score",
		mcp.Required(),
		mcp.Description("How well the utterance covers the expected script keywords, between 0 and 1")),
	mcp.WithBoolean("critical",
		mcp.Description("Whether this turn carries a compliance-critical script line")),
	mcp.WithString("expected_intent",
		mcp.Required(),
		mcp.Description("Call-flow stage this turn is expected to cover"),
		mcp.Enum("greeting", "verify_identity", "mini_miranda", "consent", "amount", "promise_to_pay", "wrapup")),
	mcp.WithArray("rule_triggered",
		mcp.Description("Rule ids already flagged by the transcription source, e.g. ['late_call']"),
		mcp.WithStringItems()),
)

var ToolGetCall = mcp.NewTool("get_call",
	mcp.WithDescription(
		"Get a call's status and evaluation summary: turns scored, alerts raised and current risk."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Call id")),
)

var ToolGetCallRisk = mcp.NewTool("get_call_risk",
	mcp.WithDescription(
		"Get the current risk snapshot of a call: the rolling average score of recent turns "+
			"and the overall label. Use this to decide whether a supervisor should step in."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Call id")),
)

var ToolListCallEvents = mcp.NewTool("list_call_events",
	mcp.WithDescription(
		"List the compliance alerts raised on a call in the order they were raised, "+
			"with severity and the suggested supervisor action."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Call id")),
	mcp.WithNumber("after_seq",
		mcp.Description("Only return alerts with a sequence number above this (default 0)")),
)

var ToolListRules = mcp.NewTool("list_rules",
	mcp.WithDescription(
		"List the compliance rules that can raise alerts, with their severity and suggested action."),
)

var ToolEndCall = mcp.NewTool("end_call",
	mcp.WithDescription(
		"Mark a call as ended. No further turns are accepted; its history stays readable."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Call id")),
)
