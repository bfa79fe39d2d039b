// Package signals collects device and behavioral evidence for a session and
// raises suspicious-activity records when a trap or known pattern is hit.
package signals

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/honeykyc/gateway/internal/audit"
)

var (
	ErrDuplicateFingerprint = errors.New("signals: device fingerprint already recorded")
	ErrInvalidInput         = errors.New("signals: invalid input")
)

// Signal types with defined payloads or side effects.
const (
	TypeMouseMovement        = "mouse_movement"
	TypeCopyPaste            = "copy_paste"
	TypeLoginSpeed           = "login_speed"
	TypePageView             = "page_view"
	TypeFailedTransaction    = "failed_transaction"
	TypeHiddenTrap           = "hidden_trap_triggered"
	TypeHoneypotClick        = "honeypot_click"
	TypeAdminProbe           = "admin_panel_probe"
	TypeDuplicateFingerprint = "duplicate_fingerprint"
	TypeWalletSend           = "wallet_send"
	TypeWalletAdd            = "wallet_add"
	TypeHoneypotAction       = "honeypot_action"
	TypeUserAction           = "user_action"
)

const maxTypeLength = 64

// failedTransactionAlertAt is the failure count from which every further
// failed transaction raises a record.
const failedTransactionAlertAt = 3

// FailureInsufficientBalance is the failed_transaction reason for a debit
// above the balance.
const FailureInsufficientBalance = "insufficient_balance"

// Wallet activity patterns.
const (
	rapidWindow      = 60 * time.Second
	rapidAlertAbove  = 2     // operations inside rapidWindow
	largeAmountAbove = 10000 // rupees, for new accounts
)

// actionAliases maps page-action names sent by the browser pages to the
// typed events they stand for.
var actionAliases = map[string]string{
	TypeHiddenTrap:        TypeHiddenTrap,
	"honeypot_trigger":    TypeHiddenTrap,
	TypeHoneypotClick:     TypeHoneypotClick,
	"click_admin_link":    TypeAdminProbe,
	TypeAdminProbe:        TypeAdminProbe,
	TypePageView:          TypePageView,
	TypeFailedTransaction: TypeFailedTransaction,
}

// ActionType resolves a page-action name to its typed event, or fallback
// when the action has no typed meaning.
func ActionType(action, fallback string) string {
	if t, ok := actionAliases[strings.ToLower(strings.TrimSpace(action))]; ok {
		return t
	}
	return fallback
}

// IsTrap reports whether events of type typ are trap hits.
func IsTrap(typ string) bool {
	_, ok := traps[typ]
	return ok
}

// sensitivePages raise a record when viewed.
var sensitivePages = map[string]bool{"admin": true, "settings": true, "hidden": true}

// Event is one behavioral observation as submitted by a client.
type Event struct {
	Type    string
	Payload map[string]any
}

// Fingerprint is the raw device description a client submits.
type Fingerprint struct {
	UserAgent        string `json:"user_agent"`
	Platform         string `json:"platform"`
	Language         string `json:"language"`
	ScreenResolution string `json:"screen_resolution"`
	ColorDepth       int    `json:"color_depth"`
	Timezone         string `json:"timezone"`
	TouchSupport     bool   `json:"touch_support"`
	CookiesEnabled   bool   `json:"cookies_enabled"`
	LocalStorage     bool   `json:"local_storage"`
	SessionStorage   bool   `json:"session_storage"`
	VPNSuspected     bool   `json:"vpn_suspected"`
}

// trap describes the record raised by a trap event type.
type trap struct {
	reason   string
	kind     audit.Kind
	severity audit.Severity
}

var traps = map[string]trap{
	TypeHiddenTrap:    {audit.ReasonHiddenTrap, audit.KindTrap, audit.SeverityCritical},
	TypeHoneypotClick: {audit.ReasonHoneypotClick, audit.KindTrap, audit.SeverityHigh},
	TypeAdminProbe:    {audit.ReasonAdminProbe, audit.KindTrap, audit.SeverityHigh},
}

// normalize validates ev and returns a copy with canonical payload keys.
func normalize(ev Event) (Event, error) {
	typ := strings.TrimSpace(ev.Type)
	if typ == "" || len(typ) > maxTypeLength {
		return Event{}, fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}

	switch typ {
	case TypeMouseMovement:
		n, ok := number(payload["count"])
		if !ok || n < 0 {
			return Event{}, fmt.Errorf("%w: mouse_movement requires a non-negative count", ErrInvalidInput)
		}
		payload["count"] = n
	case TypeCopyPaste:
		action, _ := payload["action"].(string)
		action = strings.ToLower(strings.TrimSpace(action))
		if action != "copy" && action != "paste" {
			return Event{}, fmt.Errorf("%w: copy_paste action must be copy or paste", ErrInvalidInput)
		}
		payload["action"] = action
	case TypeLoginSpeed:
		raw, present := payload["duration_ms"]
		if !present {
			raw = payload["duration"]
			delete(payload, "duration")
		}
		n, ok := number(raw)
		if !ok || n < 0 {
			return Event{}, fmt.Errorf("%w: login_speed requires a non-negative duration_ms", ErrInvalidInput)
		}
		payload["duration_ms"] = n
	case TypePageView:
		page, _ := payload["page"].(string)
		page = strings.TrimSpace(page)
		if page == "" {
			return Event{}, fmt.Errorf("%w: page_view requires a page", ErrInvalidInput)
		}
		payload["page"] = page
	}

	if len(payload) == 0 {
		payload = nil
	}
	return Event{Type: typ, Payload: payload}, nil
}

// number reads a JSON-decoded numeric value.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Number exposes the payload number parser to scoring code.
func Number(v any) (float64, bool) { return number(v) }
