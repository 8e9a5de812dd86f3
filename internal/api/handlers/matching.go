package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// MatchingHandler handles settlement and line item matching requests.
type MatchingHandler struct {
	*Base
}

// NewMatchingHandler creates a new matching handler.
func NewMatchingHandler(svc *reconcile.Service) *MatchingHandler {
	return &MatchingHandler{
		Base: NewBase(svc),
	}
}

// RunCreditCards handles POST /api/owners/:owner/match/credit-cards. The
// body, if any, overrides the configured tolerances.
func (h *MatchingHandler) RunCreditCards(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var overrides reconcile.SettlementOverrides
	if !h.BindOptionalJSON(c, &overrides) {
		return
	}

	result, err := h.svc.RunCreditCardMatching(c.Request.Context(), owner, &overrides)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// ListSettlements handles GET /api/owners/:owner/match/credit-cards.
func (h *MatchingHandler) ListSettlements(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	settlements, err := h.svc.ListSettlements(c.Request.Context(), owner)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.SettlementListResponse{Settlements: settlements, Count: len(settlements)})
}

// UnlinkCreditCard handles DELETE /api/owners/:owner/match/credit-cards/:transactionID.
func (h *MatchingHandler) UnlinkCreditCard(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	result, err := h.svc.UnlinkCreditCardTransaction(c.Request.Context(), owner, c.Param("transactionID"))
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// ReviewSettlement handles PUT /api/owners/:owner/match/credit-cards/:transactionID/review.
func (h *MatchingHandler) ReviewSettlement(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.ReviewRequest
	if !h.BindJSON(c, &req) {
		return
	}

	settlement, err := h.svc.ReviewSettlement(c.Request.Context(), owner, c.Param("transactionID"), req.Status)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, settlement)
}

// RunLineItems handles POST /api/owners/:owner/match/line-items. Without a
// body every invoice of the owner is matched.
func (h *MatchingHandler) RunLineItems(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req reconcile.LineItemRunRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}

	result, err := h.svc.RunLineItemMatching(c.Request.Context(), owner, req)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// LinkLineItem handles POST /api/owners/:owner/line-items/:lineItemID/link.
func (h *MatchingHandler) LinkLineItem(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.LinkRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("transaction_id is required"))
		return
	}

	li, err := h.svc.LinkLineItemManually(c.Request.Context(), owner, c.Param("lineItemID"), req.TransactionID)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, li)
}

// UnlinkLineItem handles DELETE /api/owners/:owner/line-items/:lineItemID/link.
func (h *MatchingHandler) UnlinkLineItem(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	if err := h.svc.UnlinkLineItem(c.Request.Context(), owner, c.Param("lineItemID")); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
