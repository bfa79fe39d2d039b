package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the HoneyKYC MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetDashboard = mcp.NewTool("get_dashboard",
	mcp.WithDescription(
		"Get the HoneyKYC fraud dashboard: headline stats, per-user risk summaries, "+
			"recent wallet transactions and the latest suspicious activity. "+
			"Start here to see who is being routed to the honeypot and why."),
)

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Get everything recorded for one verification session: identity check, device fingerprint, "+
			"behavior signals, risk assessment, route, suspicious-activity records and transactions."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session ID, e.g. 'sess_...'")),
)

var ToolListSuspiciousActivity = mcp.NewTool("list_suspicious_activity",
	mcp.WithDescription(
		"List suspicious-activity records newest first. "+
			"Records include honeypot trap hits, monitored decoy transfers and admin panel probes. "+
			"Pass the returned cursor to fetch the next page."),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous call's next_cursor")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum records to return (default 50, max 200)")),
)
