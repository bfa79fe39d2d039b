package verify

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/validation"
	"github.com/honeykyc/gateway/internal/wallet"
)

// apiError pairs a status with the public error code and message.
type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{session.ErrNotFound, apiError{http.StatusNotFound, "session_not_found", "Session not found"}},
	{session.ErrSessionExpired, apiError{http.StatusGone, "session_expired", "Session has expired"}},
	{session.ErrIdentityAlreadyChecked, apiError{http.StatusConflict, "identity_already_checked", "Identity already checked for this session"}},
	{signals.ErrDuplicateFingerprint, apiError{http.StatusConflict, "duplicate_fingerprint", "Device fingerprint already recorded"}},
	{wallet.ErrRouteUndecided, apiError{http.StatusConflict, "route_undecided", "Routing decision required before wallet access"}},
	{ledger.ErrInsufficientFunds, apiError{http.StatusPaymentRequired, "insufficient_funds", "Insufficient balance"}},
	{signals.ErrInvalidInput, apiError{http.StatusBadRequest, "invalid_request", ""}},
	{ledger.ErrInvalidAmount, apiError{http.StatusBadRequest, "invalid_request", ""}},
	{context.DeadlineExceeded, apiError{http.StatusServiceUnavailable, "timeout", "Request timed out"}},
}

// respondError maps err onto the public error shape. Unknown errors are
// logged and reported as internal_error.
func respondError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": verrs.Error(), "details": verrs})
		return
	}
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			msg := e.message
			if msg == "" {
				msg = err.Error()
			}
			c.JSON(e.status, gin.H{"error": e.code, "message": msg})
			return
		}
	}
	logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

// isClientError reports whether err is the caller's fault.
func isClientError(err error) bool {
	var verrs validation.ValidationErrors
	return errors.As(err, &verrs) ||
		errors.Is(err, signals.ErrInvalidInput) ||
		errors.Is(err, ledger.ErrInvalidAmount)
}
