// Package verify is the public HTTP surface of the gateway: the verification
// flow, the wallet and the decoy pages.
package verify

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/honeykyc/gateway/internal/honeypot"
	"github.com/honeykyc/gateway/internal/identity"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/risk"
	"github.com/honeykyc/gateway/internal/routing"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/validation"
	"github.com/honeykyc/gateway/internal/wallet"
)

// Services are the collaborators the handlers drive.
type Services struct {
	Sessions  *session.Manager
	Identity  *identity.Adapter
	Collector *signals.Collector
	Assessor  *risk.Assessor
	Decider   *routing.Decider
	Wallet    *wallet.Service
	Decoy     *honeypot.Simulator
}

// Handler provides the verification, wallet and honeypot endpoints.
type Handler struct {
	Services
}

// NewHandler creates a new verify handler.
func NewHandler(svc Services) *Handler {
	return &Handler{Services: svc}
}

// RegisterRoutes sets up the public routes under r (normally /api).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verify/start", h.start)
	r.POST("/verify/device", h.device)
	r.POST("/verify/behavior", h.behavior)
	r.POST("/track/action", h.behavior)
	r.POST("/verify/risk", h.risk)
	r.POST("/verify/route", h.route)
	r.POST("/verify/name-check", h.nameCheck)
	r.POST("/logout", h.logout)

	r.GET("/wallet/balance", h.balance)
	r.POST("/wallet/send", h.send)
	r.POST("/wallet/add", h.add)
	r.GET("/wallet/transactions", h.transactions)

	r.GET("/honeypot/fake-balance", h.fakeBalance)
	r.POST("/honeypot/fake-transfer", h.fakeTransfer)
	r.POST("/honeypot/track", h.honeypotTrack)
	r.POST("/honeypot/trap", h.honeypotTrap)
	r.GET("/admin-panel", h.adminPanelDecoy)
}

type startRequest struct {
	Name         string `json:"name"`
	Mobile       string `json:"mobile"`
	IsNewAccount bool   `json:"is_new_account"`
}

// start opens a session and runs the identity check.
func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	req.Name = validation.SanitizeString(req.Name, validation.MaxNameLength)
	req.Mobile = validation.NormalizeMobile(req.Mobile)
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("mobile", req.Mobile),
		validation.ValidMobile("mobile", req.Mobile),
	); len(errs) > 0 {
		respondError(c, errs)
		return
	}

	ctx := c.Request.Context()
	s, err := h.Sessions.Create(ctx, req.Mobile, req.Name, req.IsNewAccount)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx = logging.WithSessionID(ctx, s.ID)

	res := h.Identity.Check(ctx, req.Mobile, req.Name)
	_, err = h.Sessions.Update(ctx, s.ID, func(s *session.Session) error {
		return s.SetIdentity(session.IdentityCheck{
			Matched:       res.Matched,
			TelecomOwner:  res.TelecomOwner,
			SimAgeDays:    res.SimAgeDays,
			LowConfidence: res.LowConfidence,
			CheckedAt:     h.Sessions.Now(),
		})
	})
	if err != nil {
		respondError(c, err)
		return
	}

	logging.L(ctx).Info("verification started",
		"mobile", logging.MaskMobile(req.Mobile),
		"identity_matched", res.Matched,
		"low_confidence", res.LowConfidence,
	)
	c.JSON(http.StatusOK, gin.H{
		"session_id":       s.ID,
		"status":           "started",
		"identity_matched": res.Matched,
		"low_confidence":   res.LowConfidence,
	})
}

// device records the one-per-session fingerprint.
func (h *Handler) device(c *gin.Context) {
	body, err := bindMap(c)
	if err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	id := sessionID(c, str(body, "session_id"))
	if id == "" {
		badRequest(c, "session_id is required")
		return
	}
	if err := h.Collector.RecordDeviceFingerprint(c.Request.Context(), id, fingerprintFrom(body), c.ClientIP()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "session_id": id})
}

// behavior appends a behavior event. Tracking never blocks the flow: events
// for dead sessions or during a monitoring outage are acknowledged as ignored.
func (h *Handler) behavior(c *gin.Context) {
	body, err := bindMap(c)
	if err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	id := sessionID(c, str(body, "session_id"))
	if id == "" {
		badRequest(c, "session_id is required")
		return
	}
	h.ack(c, h.Collector.RecordBehavior(c.Request.Context(), id, eventFrom(body)))
}

// ack answers a tracking call.
func (h *Handler) ack(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "tracked"})
	case signals.IsIgnorable(err):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case isClientError(err):
		respondError(c, err)
	default:
		logging.L(c.Request.Context()).Warn("tracking failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// bindSession reads an optional {session_id} body and resolves the id.
func bindSession(c *gin.Context) (string, bool) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid JSON body")
			return "", false
		}
	}
	id := sessionID(c, req.SessionID)
	if id == "" {
		badRequest(c, "session_id is required")
		return "", false
	}
	return id, true
}

// risk scores the session and stores the latest assessment.
func (h *Handler) risk(c *gin.Context) {
	id, ok := bindSession(c)
	if !ok {
		return
	}
	a, err := h.Assessor.Assess(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   id,
		"risk_score":   a.Score,
		"risk_level":   a.Level,
		"risk_factors": a.FactorNames(),
		"descriptions": a.Descriptions(),
	})
}

// route commits or replays the routing decision.
func (h *Handler) route(c *gin.Context) {
	id, ok := bindSession(c)
	if !ok {
		return
	}
	d, err := h.Decider.Decide(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "route": d.Route})
}

type nameCheckRequest struct {
	Mobile string `json:"mobile"`
	Name   string `json:"name"`
}

// nameCheck answers whether a name matches the number's registered owner
// without disclosing the owner.
func (h *Handler) nameCheck(c *gin.Context) {
	var req nameCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	req.Mobile = validation.NormalizeMobile(req.Mobile)
	if errs := validation.Validate(
		validation.Required("name", strings.TrimSpace(req.Name)),
		validation.Required("mobile", req.Mobile),
		validation.ValidMobile("mobile", req.Mobile),
	); len(errs) > 0 {
		respondError(c, errs)
		return
	}
	res := h.Identity.Check(c.Request.Context(), req.Mobile, req.Name)
	c.JSON(http.StatusOK, gin.H{"matched": res.Matched, "low_confidence": res.LowConfidence})
}

// logout archives the session; end hooks drop decoy state.
func (h *Handler) logout(c *gin.Context) {
	id, ok := bindSession(c)
	if !ok {
		return
	}
	if _, err := h.Sessions.Logout(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "session_id": id})
}
