package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// AliasesHandler handles vendor alias requests.
type AliasesHandler struct {
	*Base
}

// NewAliasesHandler creates a new aliases handler.
func NewAliasesHandler(svc *reconcile.Service) *AliasesHandler {
	return &AliasesHandler{
		Base: NewBase(svc),
	}
}

// List handles GET /api/owners/:owner/vendor-aliases.
func (h *AliasesHandler) List(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	aliases, err := h.svc.ListVendorAliases(c.Request.Context(), owner)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.VendorAliasListResponse{Aliases: aliases, Count: len(aliases)})
}

// Create handles POST /api/owners/:owner/vendor-aliases.
func (h *AliasesHandler) Create(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	var req dto.VendorAliasRequest
	if !h.BindJSON(c, &req) {
		return
	}

	alias := req.ToVendorAlias(owner)
	if err := h.svc.CreateVendorAlias(c.Request.Context(), owner, alias); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, alias)
}

// Delete handles DELETE /api/owners/:owner/vendor-aliases/:aliasID.
func (h *AliasesHandler) Delete(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteVendorAlias(c.Request.Context(), owner, c.Param("aliasID")); err != nil {
		h.WriteServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
