package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// ImportsHandler handles statement, invoice and upload requests.
type ImportsHandler struct {
	*Base
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(svc *reconcile.Service) *ImportsHandler {
	return &ImportsHandler{
		Base: NewBase(svc),
	}
}

// Bank handles POST /api/owners/:owner/imports/bank.
func (h *ImportsHandler) Bank(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.BankImportRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if len(req.Rows) == 0 {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("rows are required"))
		return
	}

	result, err := h.svc.ImportBankStatement(c.Request.Context(), owner, req.Rows)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// CreditCard handles POST /api/owners/:owner/imports/credit-card.
func (h *ImportsHandler) CreditCard(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.CreditCardImportRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if len(req.Rows) == 0 {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("rows are required"))
		return
	}

	result, err := h.svc.ImportCreditCardStatement(c.Request.Context(), owner, req.Rows)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// SaveInvoice handles POST /api/owners/:owner/invoices. A semantic duplicate
// refused under the block policy gets a 409 with the check attached.
func (h *ImportsHandler) SaveInvoice(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.InvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := req.ToInvoice(owner)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}

	result, err := h.svc.SaveInvoice(c.Request.Context(), owner, inv)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	if !result.Saved {
		h.WriteJSON(c, http.StatusConflict, result)
		return
	}
	h.WriteJSON(c, http.StatusCreated, result)
}

// InvoiceDuplicates handles GET /api/owners/:owner/invoices/:invoiceID/duplicates.
func (h *ImportsHandler) InvoiceDuplicates(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	result, err := h.svc.CheckInvoiceSemantic(c.Request.Context(), owner, c.Param("invoiceID"))
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// LineItems handles POST /api/owners/:owner/invoices/:invoiceID/line-items.
func (h *ImportsHandler) LineItems(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.LineItemImportRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if len(req.Items) == 0 {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("items are required"))
		return
	}

	result, err := h.svc.ImportLineItems(c.Request.Context(), owner, c.Param("invoiceID"), req.Items)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// ListLineItems handles GET /api/owners/:owner/invoices/:invoiceID/line-items.
func (h *ImportsHandler) ListLineItems(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	items, err := h.svc.ListLineItems(c.Request.Context(), owner, c.Param("invoiceID"))
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.LineItemListResponse{LineItems: items, Count: len(items)})
}

// CheckFile handles POST /api/owners/:owner/files/check. With register set
// an exact duplicate is refused with a 409.
func (h *ImportsHandler) CheckFile(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.FileCheckRequest
	if !h.BindJSON(c, &req) {
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" || req.SizeBytes < 0 {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("filename and a non-negative size_bytes are required"))
		return
	}

	if !req.Register {
		h.WriteJSON(c, http.StatusOK, h.svc.CheckFile(c.Request.Context(), owner, req.Filename, req.SizeBytes))
		return
	}

	result, err := h.svc.RegisterFile(c.Request.Context(), owner, req.Filename, req.SizeBytes)
	switch {
	case errors.Is(err, reconcile.ErrDuplicateBlocked):
		h.WriteJSON(c, http.StatusConflict, result)
	case err != nil:
		h.WriteServiceError(c, err)
	default:
		h.WriteJSON(c, http.StatusCreated, result)
	}
}
