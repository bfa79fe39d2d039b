package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with the operator tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("honeykyc", "1.0.0")
	h := NewHandlers(NewAdminClient(cfg))

	s.AddTool(ToolGetDashboard, h.HandleGetDashboard)
	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolListSuspiciousActivity, h.HandleListSuspicious)

	return s
}
