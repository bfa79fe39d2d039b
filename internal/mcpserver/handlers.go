package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the MCP tool handler functions.
type Handlers struct {
	client *AdminClient
}

// NewHandlers creates handlers backed by the given admin client.
func NewHandlers(client *AdminClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetDashboard summarizes the admin dashboard.
func (h *Handlers) HandleGetDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetDashboard(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get dashboard: %v", err)), nil
	}

	text, err := formatDashboard(raw)
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetSession returns one session's full record.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(text + "\nRaw record:\n" + formatJSON(raw)), nil
}

// HandleListSuspicious lists a page of suspicious-activity records.
func (h *Handlers) HandleListSuspicious(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cursor := req.GetString("cursor", "")
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	raw, err := h.client.ListSuspicious(ctx, cursor, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list suspicious activity: %v", err)), nil
	}

	text, err := formatSuspiciousPage(raw)
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func formatDashboard(raw json.RawMessage) (string, error) {
	var d struct {
		Stats      map[string]any   `json:"stats"`
		Users      []map[string]any `json:"users"`
		Suspicious []map[string]any `json:"suspicious_activities"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}
	if d.Stats == nil {
		return "", fmt.Errorf("unexpected dashboard response format")
	}

	var sb strings.Builder
	sb.WriteString("HoneyKYC Dashboard:\n")
	for _, row := range []struct{ label, key string }{
		{"Users", "total_users"},
		{"High risk", "high_risk_users"},
		{"Active sessions", "active_sessions"},
		{"Honeypot sessions", "honeypot_sessions"},
		{"Transactions", "total_transactions"},
		{"Suspicious", "suspicious_activities"},
	} {
		if v, ok := getFloat(d.Stats, row.key); ok {
			sb.WriteString(fmt.Sprintf("  %-18s %.0f\n", row.label+":", v))
		}
	}

	if len(d.Users) > 0 {
		sb.WriteString(fmt.Sprintf("\nUsers (%d):\n", len(d.Users)))
		for i, u := range d.Users {
			score, _ := getFloat(u, "risk_score")
			sb.WriteString(fmt.Sprintf("%d. %s (%s) risk %.0f %s, route %s\n",
				i+1, getString(u, "name"), getString(u, "mobile"), score,
				getString(u, "risk_level"), getString(u, "route")))
		}
	}

	if len(d.Suspicious) > 0 {
		sb.WriteString("\nLatest suspicious activity:\n")
		writeRecords(&sb, d.Suspicious)
	}
	return sb.String(), nil
}

func formatSession(raw json.RawMessage) (string, error) {
	var d struct {
		Session      map[string]any   `json:"session"`
		Suspicious   []map[string]any `json:"suspicious_activities"`
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}
	if d.Session == nil {
		return "", fmt.Errorf("unexpected session response format")
	}

	s := d.Session
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session %s:\n", getString(s, "id")))
	sb.WriteString(fmt.Sprintf("  User:   %s (%s)\n", getString(s, "claimed_name"), getString(s, "mobile")))
	sb.WriteString(fmt.Sprintf("  Status: %s\n", getString(s, "status")))
	if score, ok := getFloat(s, "risk_score"); ok {
		sb.WriteString(fmt.Sprintf("  Risk:   %.0f %s\n", score, getString(s, "risk_level")))
	}
	if factors, ok := s["risk_factors"].([]any); ok && len(factors) > 0 {
		names := make([]string, 0, len(factors))
		for _, f := range factors {
			names = append(names, fmt.Sprint(f))
		}
		sb.WriteString(fmt.Sprintf("  Factors: %s\n", strings.Join(names, ", ")))
	}
	if route := getString(s, "route"); route != "" {
		sb.WriteString(fmt.Sprintf("  Route:  %s\n", route))
	}

	if len(d.Suspicious) > 0 {
		sb.WriteString(fmt.Sprintf("\nSuspicious activity (%d):\n", len(d.Suspicious)))
		writeRecords(&sb, d.Suspicious)
	}
	if len(d.Transactions) > 0 {
		sb.WriteString(fmt.Sprintf("\nTransactions (%d):\n", len(d.Transactions)))
		for i, tx := range d.Transactions {
			sb.WriteString(fmt.Sprintf("%d. %s %s INR [%s] %s\n", i+1,
				getString(tx, "type"), getString(tx, "amount"),
				getString(tx, "wallet"), getString(tx, "status")))
		}
	}
	return sb.String(), nil
}

func formatSuspiciousPage(raw json.RawMessage) (string, error) {
	var page struct {
		Records    []map[string]any `json:"suspicious_activities"`
		NextCursor string           `json:"next_cursor"`
		HasMore    bool             `json:"has_more"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return "", err
	}

	if len(page.Records) == 0 {
		return "No suspicious activity recorded.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d record(s):\n\n", len(page.Records)))
	writeRecords(&sb, page.Records)
	if page.HasMore {
		sb.WriteString(fmt.Sprintf("\nMore records available; next cursor: %s\n", page.NextCursor))
	}
	return sb.String(), nil
}

func writeRecords(sb *strings.Builder, recs []map[string]any) {
	for i, r := range recs {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s: %s (%s)\n", i+1,
			strings.ToUpper(getString(r, "severity")), getString(r, "reason"),
			getString(r, "user_name"), getString(r, "session_id")))
		if amt := getString(r, "amount"); amt != "" {
			sb.WriteString(fmt.Sprintf("   Amount: %s INR\n", amt))
		}
	}
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
