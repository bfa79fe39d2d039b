package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/pagination"
	"github.com/honeykyc/gateway/internal/security"
	"github.com/honeykyc/gateway/internal/session"
)

// HeaderAdminSecret carries the operator shared secret.
const HeaderAdminSecret = "X-Admin-Secret"

// RequireAdmin rejects requests without the admin secret. An empty secret
// rejects everything.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !security.SecretsEqual(secret, c.GetHeader(HeaderAdminSecret)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required. Include the '" + HeaderAdminSecret + "' header.",
			})
			return
		}
		c.Next()
	}
}

// Streamer upgrades a request to the live operator feed.
type Streamer interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	agg    *Aggregator
	audit  audit.Store
	stream Streamer
}

// NewHandler creates a new admin handler. stream may be nil.
func NewHandler(agg *Aggregator, auditStore audit.Store, stream Streamer) *Handler {
	return &Handler{agg: agg, audit: auditStore, stream: stream}
}

// RegisterRoutes sets up admin routes on a group already guarded by RequireAdmin.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/dashboard", h.dashboard)
	r.GET("/admin/sessions/:id", h.sessionDetail)
	r.GET("/admin/suspicious-activity", h.suspiciousActivity)
	if h.stream != nil {
		r.GET("/admin/stream", gin.WrapF(h.stream.HandleWebSocket))
	}
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.agg.Dashboard(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to build dashboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to build dashboard"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) sessionDetail(c *gin.Context) {
	d, err := h.agg.Session(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found", "message": "Session not found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load session detail", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load session"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) suspiciousActivity(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid cursor"})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	recs, err := h.audit.ListPage(c.Request.Context(), cursor, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list suspicious activity", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list suspicious activity"})
		return
	}
	page, next, more := pagination.ComputePage(recs, limit, func(r *audit.Record) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	if page == nil {
		page = []*audit.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"suspicious_activities": page,
		"count":                 len(page),
		"next_cursor":           next,
		"has_more":              more,
	})
}
