package verify

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/honeykyc/gateway/internal/signals"
)

// HeaderSessionID may carry the session id instead of the body or query.
const HeaderSessionID = "X-Session-ID"

// sessionID resolves the session id from the body, the query string or the
// X-Session-ID header, in that order.
func sessionID(c *gin.Context, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Query("session_id")); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(HeaderSessionID))
}

// bindMap decodes a JSON object body. An empty body yields an empty map.
func bindMap(c *gin.Context) (map[string]any, error) {
	out := map[string]any{}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return out, nil
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v
		}
	}
	return ""
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

func integer(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if n, ok := signals.Number(m[k]); ok {
			return int(n)
		}
	}
	return 0
}

// fingerprintFrom accepts both snake_case and the browser collector's
// camelCase field names.
func fingerprintFrom(m map[string]any) signals.Fingerprint {
	return signals.Fingerprint{
		UserAgent:        str(m, "user_agent", "userAgent"),
		Platform:         str(m, "platform"),
		Language:         str(m, "language"),
		ScreenResolution: str(m, "screen_resolution", "screenResolution"),
		ColorDepth:       integer(m, "color_depth", "colorDepth"),
		Timezone:         str(m, "timezone"),
		TouchSupport:     boolean(m, "touch_support", "touchSupport"),
		CookiesEnabled:   boolean(m, "cookies_enabled", "cookiesEnabled"),
		LocalStorage:     boolean(m, "local_storage", "localStorage"),
		SessionStorage:   boolean(m, "session_storage", "sessionStorage"),
		VPNSuspected:     boolean(m, "vpn_suspected", "vpn_detected"),
	}
}

// reservedKeys are envelope fields, not event payload.
var reservedKeys = map[string]bool{"session_id": true, "type": true, "event_type": true, "payload": true}

// eventFrom builds a behavior event from either the flat form
// {session_id, type, ...fields}, the nested form {session_id, type, payload},
// or the page-action form {session_id, action: {action, page, details}}.
// Page-action names with a typed meaning (traps, page views, failed
// transactions) become that typed event.
func eventFrom(m map[string]any) signals.Event {
	if str(m, "type", "event_type") == "" {
		if action, ok := m["action"].(map[string]any); ok {
			return actionEvent(action)
		}
		if _, ok := m["action"].(string); ok {
			return actionEvent(m)
		}
	}

	typ := str(m, "type", "event_type")
	ev := signals.Event{Type: signals.ActionType(typ, typ), Payload: map[string]any{}}
	if nested, ok := m["payload"].(map[string]any); ok {
		for k, v := range nested {
			ev.Payload[k] = v
		}
	}
	for k, v := range m {
		if !reservedKeys[k] {
			ev.Payload[k] = v
		}
	}
	return ev
}

func actionEvent(action map[string]any) signals.Event {
	name := str(action, "action")
	page := str(action, "page")
	payload := map[string]any{"action": name, "page": page}
	details, _ := action["details"].(map[string]any)
	if details != nil {
		payload["details"] = details
	}

	typ := signals.ActionType(name, signals.TypeUserAction)
	switch typ {
	case signals.TypePageView:
		if page == "" {
			typ = signals.TypeUserAction
		}
	case signals.TypeFailedTransaction:
		// Lift the failure fields so pattern rules can read them.
		for _, k := range []string{"reason", "amount"} {
			if v, ok := details[k]; ok {
				payload[k] = v
			}
		}
	}
	return signals.Event{Type: typ, Payload: payload}
}
