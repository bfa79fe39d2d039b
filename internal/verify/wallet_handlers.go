package verify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/validation"
	"github.com/honeykyc/gateway/internal/wallet"
)

const maxCounterpartyLength = 64

// amountFrom reads a decimal amount given either as a JSON number or string.
func amountFrom(m map[string]any, key string) (decimal.Decimal, error) {
	switch v := m[key].(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case nil:
		return decimal.Zero, fmt.Errorf("%s is required", key)
	}
	return decimal.Zero, fmt.Errorf("%s must be a number", key)
}

// transferBody is the decoded form shared by send, add and fake-transfer.
type transferBody struct {
	sessionID    string
	amount       decimal.Decimal
	counterparty string
}

func bindTransfer(c *gin.Context, counterpartyKeys ...string) (transferBody, bool) {
	body, err := bindMap(c)
	if err != nil {
		badRequest(c, "Invalid JSON body")
		return transferBody{}, false
	}
	id := sessionID(c, str(body, "session_id"))
	if id == "" {
		badRequest(c, "session_id is required")
		return transferBody{}, false
	}
	amount, err := amountFrom(body, "amount")
	if err != nil {
		badRequest(c, err.Error())
		return transferBody{}, false
	}
	if errs := validation.Validate(validation.WellFormedAmount("amount", amount)); len(errs) > 0 {
		respondError(c, errs)
		return transferBody{}, false
	}
	return transferBody{
		sessionID:    id,
		amount:       amount,
		counterparty: validation.SanitizeString(str(body, counterpartyKeys...), maxCounterpartyLength),
	}, true
}

func (h *Handler) balance(c *gin.Context) {
	id := sessionID(c, "")
	if id == "" {
		badRequest(c, "session_id is required")
		return
	}
	view, err := h.Wallet.Balance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) send(c *gin.Context) {
	req, ok := bindTransfer(c, "recipient", "to_account")
	if !ok {
		return
	}
	if req.counterparty == "" {
		badRequest(c, "recipient is required")
		return
	}
	receipt, err := h.Wallet.Send(c.Request.Context(), req.sessionID, req.amount, req.counterparty)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) add(c *gin.Context) {
	req, ok := bindTransfer(c, "source")
	if !ok {
		return
	}
	if req.counterparty == "" {
		req.counterparty = "Bank Transfer"
	}
	receipt, err := h.Wallet.Add(c.Request.Context(), req.sessionID, req.amount, req.counterparty)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) transactions(c *gin.Context) {
	id := sessionID(c, "")
	if id == "" {
		badRequest(c, "session_id is required")
		return
	}
	limit := wallet.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	txs, err := h.Wallet.History(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}
