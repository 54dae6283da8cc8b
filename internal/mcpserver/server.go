package mcpserver

import (
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/callwatch/pkg/callwatch"
)

// Config holds the configuration for connecting to a callwatch server.
type Config struct {
	APIURL  string
	Timeout time.Duration
}

// NewMCPServer creates a configured MCP server with all callwatch tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := callwatch.NewClient(cfg.APIURL, callwatch.WithHTTPClient(&http.Client{Timeout: timeout}))
	return newServer(NewHandlers(client), version)
}

func newServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer("callwatch", version)

	s.AddTool(ToolStartCall, h.HandleStartCall)
	s.AddTool(ToolSubmitTurn, h.HandleSubmitTurn)
	s.AddTool(ToolGetCall, h.HandleGetCall)
	s.AddTool(ToolGetCallRisk, h.HandleGetCallRisk)
	s.AddTool(ToolListCallEvents, h.HandleListCallEvents)
	s.AddTool(ToolListRules, h.HandleListRules)
	s.AddTool(ToolEndCall, h.HandleEndCall)

	return s
}
