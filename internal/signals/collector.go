package signals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/ipintel"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/validation"
)

const maxFieldLength = 512

// automationMarkers flag scripted browsers the UA parser does not list as bots.
var automationMarkers = []string{"headless", "phantomjs", "selenium", "puppeteer", "playwright", "webdriver"}

// Collector records fingerprints and behavior events on sessions.
type Collector struct {
	sessions *session.Manager
	recorder *audit.Recorder
	ip       ipintel.Oracle
}

// NewCollector creates a collector. A nil ip oracle never flags addresses.
func NewCollector(sessions *session.Manager, recorder *audit.Recorder, ip ipintel.Oracle) *Collector {
	if ip == nil {
		ip = ipintel.Nop{}
	}
	return &Collector{sessions: sessions, recorder: recorder, ip: ip}
}

// RecordDeviceFingerprint stores the session's device fingerprint. A second
// submission is kept as a duplicate_fingerprint signal and rejected with
// ErrDuplicateFingerprint; the stored fingerprint does not change.
func (c *Collector) RecordDeviceFingerprint(ctx context.Context, id string, fp Fingerprint, clientIP string) error {
	if strings.TrimSpace(fp.UserAgent) == "" {
		return fmt.Errorf("%w: user_agent is required", ErrInvalidInput)
	}
	device := c.buildDevice(ctx, fp, clientIP)

	_, err := c.sessions.Update(ctx, id, func(s *session.Session) error {
		now := c.sessions.Now()
		if s.Device != nil {
			s.AppendSignal(session.Signal{
				Type:       TypeDuplicateFingerprint,
				Payload:    map[string]any{"rejected_hash": device.Hash},
				ObservedAt: now,
			})
			metrics.SignalsTotal.WithLabelValues(TypeDuplicateFingerprint).Inc()
			return session.KeepChanges(ErrDuplicateFingerprint)
		}
		device.RecordedAt = now
		return s.SetDevice(device)
	})
	if err != nil {
		return err
	}

	logging.L(ctx).Info("device fingerprint recorded",
		"session_id", id,
		"browser", device.Browser,
		"os", device.OS,
		"automated", device.Automated,
		"vpn_suspected", device.VPNSuspected,
	)
	return nil
}

func (c *Collector) buildDevice(ctx context.Context, fp Fingerprint, clientIP string) session.DeviceFingerprint {
	d := session.DeviceFingerprint{
		UserAgent:        validation.SanitizeString(fp.UserAgent, maxFieldLength),
		Platform:         validation.SanitizeString(fp.Platform, maxFieldLength),
		Language:         validation.SanitizeString(fp.Language, maxFieldLength),
		ScreenResolution: validation.SanitizeString(fp.ScreenResolution, maxFieldLength),
		ColorDepth:       fp.ColorDepth,
		Timezone:         validation.SanitizeString(fp.Timezone, maxFieldLength),
		TouchSupport:     fp.TouchSupport,
		CookiesEnabled:   fp.CookiesEnabled,
		LocalStorage:     fp.LocalStorage,
		SessionStorage:   fp.SessionStorage,
		ClientIP:         clientIP,
		VPNSuspected:     fp.VPNSuspected,
	}

	ua := useragent.New(d.UserAgent)
	browser, version := ua.Browser()
	if version != "" {
		browser = browser + " " + version
	}
	d.Browser = browser
	osInfo := ua.OSInfo()
	d.OS = strings.TrimSpace(osInfo.Name + " " + osInfo.Version)
	d.Mobile = ua.Mobile()
	d.Automated = ua.Bot() || hasAutomationMarker(d.UserAgent)

	if clientIP != "" {
		anon, err := c.ip.IsAnonymous(ctx, clientIP)
		if err != nil {
			logging.L(ctx).Debug("ip intelligence lookup failed", "error", err)
		}
		d.VPNSuspected = d.VPNSuspected || anon
	}

	d.Hash = hashDevice(d)
	return d
}

func hasAutomationMarker(ua string) bool {
	lower := strings.ToLower(ua)
	for _, m := range automationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// hashDevice hashes the client-supplied attributes, lower-cased, with keys
// in sorted order.
func hashDevice(d session.DeviceFingerprint) string {
	attrs := map[string]any{
		"user_agent":        strings.ToLower(d.UserAgent),
		"platform":          strings.ToLower(d.Platform),
		"language":          strings.ToLower(d.Language),
		"screen_resolution": strings.ToLower(d.ScreenResolution),
		"color_depth":       d.ColorDepth,
		"timezone":          strings.ToLower(d.Timezone),
		"touch_support":     d.TouchSupport,
		"cookies_enabled":   d.CookiesEnabled,
		"local_storage":     d.LocalStorage,
		"session_storage":   d.SessionStorage,
	}
	raw, _ := json.Marshal(attrs)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// RecordBehavior appends ev to the session's signal log.
func (c *Collector) RecordBehavior(ctx context.Context, id string, ev Event) error {
	ev, err := normalize(ev)
	if err != nil {
		return err
	}
	_, err = c.sessions.Update(ctx, id, func(s *session.Session) error {
		return c.observe(ctx, s, ev)
	})
	return err
}

// Observe appends ev to s and raises any trap or pattern record. The caller
// must hold the session lock, i.e. call it from inside Manager.Update.
func (c *Collector) Observe(ctx context.Context, s *session.Session, ev Event) error {
	ev, err := normalize(ev)
	if err != nil {
		return err
	}
	return c.observe(ctx, s, ev)
}

func (c *Collector) observe(ctx context.Context, s *session.Session, ev Event) error {
	s.AppendSignal(session.Signal{
		Type:       ev.Type,
		Payload:    ev.Payload,
		ObservedAt: c.sessions.Now(),
	})
	metrics.SignalsTotal.WithLabelValues(metricType(ev.Type)).Inc()

	for _, rec := range patternRecords(s, ev) {
		if _, err := c.recorder.Record(ctx, rec); err != nil {
			// The signal stays appended even when the record is lost.
			logging.L(ctx).Error("failed to record suspicious activity",
				"session_id", s.ID,
				"reason", rec.Reason,
				"error", err,
			)
		}
	}
	return nil
}

// patternRecords returns the records ev raises against s. s already
// includes ev.
func patternRecords(s *session.Session, ev Event) []audit.Record {
	record := func(reason string, kind audit.Kind, sev audit.Severity, description string) audit.Record {
		r := audit.Record{
			SessionID: s.ID,
			UserName:  s.ClaimedName,
			Mobile:    s.Mobile,
			Reason:    reason,
			Kind:      kind,
			Severity:  sev,
			Details:   map[string]any{"event": ev.Type},
		}
		for k, v := range ev.Payload {
			r.Details[k] = v
		}
		if description != "" {
			r.Details["description"] = description
		}
		return r
	}

	if t, ok := traps[ev.Type]; ok {
		return []audit.Record{record(t.reason, t.kind, t.severity, "")}
	}

	var out []audit.Record
	switch ev.Type {
	case TypePageView, TypeUserAction:
		page, _ := ev.Payload["page"].(string)
		if sensitivePages[strings.ToLower(page)] {
			out = append(out, record(audit.ReasonSensitivePageView, audit.KindPattern, audit.SeverityMedium,
				"Attempted to access "+page+" page"))
		}
	case TypeFailedTransaction:
		if reason, _ := ev.Payload["reason"].(string); reason == FailureInsufficientBalance {
			amount, _ := Number(ev.Payload["amount"])
			out = append(out, record(audit.ReasonInsufficientBalance, audit.KindPattern, audit.SeverityMedium,
				fmt.Sprintf("Failed transaction attempt: Insufficient balance for ₹%.2f", amount)))
		}
		if n := s.CountSignals(TypeFailedTransaction); n >= failedTransactionAlertAt {
			r := record(audit.ReasonRepeatedFailures, audit.KindPattern, audit.SeverityMedium,
				"Multiple failed transaction attempts")
			r.Details["failures"] = n
			out = append(out, r)
		}
	case TypeWalletSend, TypeWalletAdd:
		amount, _ := Number(ev.Payload["amount"])
		if s.IsNewAccount && amount > largeAmountAbove {
			out = append(out, record(audit.ReasonNewAccountLarge, audit.KindPattern, audit.SeverityHigh,
				fmt.Sprintf("New user making large transaction of ₹%.2f", amount)))
		}
		if n := recentWalletOps(s, rapidWindow); n > rapidAlertAbove {
			r := record(audit.ReasonRapidTransactions, audit.KindPattern, audit.SeverityMedium,
				fmt.Sprintf("Multiple rapid transactions: %d in %d seconds", n, int(rapidWindow.Seconds())))
			r.Details["count"] = n
			out = append(out, r)
		}
	}
	return out
}

// recentWalletOps counts wallet operations observed within window of the
// newest signal.
func recentWalletOps(s *session.Session, window time.Duration) int {
	if len(s.Signals) == 0 {
		return 0
	}
	since := s.Signals[len(s.Signals)-1].ObservedAt.Add(-window)
	n := 0
	for i := len(s.Signals) - 1; i >= 0; i-- {
		sig := s.Signals[i]
		if sig.ObservedAt.Before(since) {
			break
		}
		if sig.Type == TypeWalletSend || sig.Type == TypeWalletAdd {
			n++
		}
	}
	return n
}

// knownTypes bounds the signal metric's label cardinality.
var knownTypes = map[string]bool{
	TypeMouseMovement: true, TypeCopyPaste: true, TypeLoginSpeed: true,
	TypePageView: true, TypeFailedTransaction: true, TypeHiddenTrap: true,
	TypeHoneypotClick: true, TypeAdminProbe: true, TypeDuplicateFingerprint: true,
	TypeWalletSend: true, TypeWalletAdd: true, TypeHoneypotAction: true,
	TypeUserAction: true,
}

func metricType(t string) string {
	if knownTypes[t] {
		return t
	}
	return "other"
}

// IsIgnorable reports whether a tracking error should be acknowledged
// rather than surfaced: the session is gone, so there is nothing to track.
func IsIgnorable(err error) bool {
	return errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrSessionExpired)
}
