package verify

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/signals"
)

func (h *Handler) fakeBalance(c *gin.Context) {
	id := sessionID(c, "")
	if id == "" {
		badRequest(c, "session_id is required")
		return
	}
	p, err := h.Wallet.DecoyPortfolio(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) fakeTransfer(c *gin.Context) {
	req, ok := bindTransfer(c, "to_account", "recipient")
	if !ok {
		return
	}
	if req.counterparty == "" {
		badRequest(c, "to_account is required")
		return
	}
	receipt, err := h.Wallet.DecoyTransfer(c.Request.Context(), req.sessionID, req.amount, req.counterparty)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) honeypotTrack(c *gin.Context) {
	body, err := bindMap(c)
	if err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	id := sessionID(c, str(body, "session_id"))
	action := str(body, "action", "action_type")
	if id == "" || action == "" {
		badRequest(c, "session_id and action are required")
		return
	}
	details, _ := body["details"].(map[string]any)
	h.ack(c, h.Wallet.DecoyTrack(c.Request.Context(), id, action, details))
}

func (h *Handler) honeypotTrap(c *gin.Context) {
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
	element := str(body, "element")
	if element == "" {
		element = "unknown"
	}
	h.ack(c, h.Decoy.Trap(c.Request.Context(), id, element))
}

// adminPanelDecoy is a fake admin login. A caller that names a session is
// flagged; everyone gets the same 401.
func (h *Handler) adminPanelDecoy(c *gin.Context) {
	if id := sessionID(c, ""); id != "" {
		ctx := c.Request.Context()
		err := h.Collector.RecordBehavior(ctx, id, signals.Event{
			Type:    signals.TypeAdminProbe,
			Payload: map[string]any{"path": c.Request.URL.Path},
		})
		if err != nil && !signals.IsIgnorable(err) {
			logging.L(ctx).Warn("admin probe not recorded", "session_id", id, "error", err)
		}
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Admin authentication required"})
}
