package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// TransactionsHandler handles ledger row requests.
type TransactionsHandler struct {
	*Base
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc *reconcile.Service) *TransactionsHandler {
	return &TransactionsHandler{
		Base: NewBase(svc),
	}
}

// List handles GET /api/owners/:owner/transactions.
//
// Query params: type (comma separated), from, to, status, card, unsettled, limit.
func (h *TransactionsHandler) List(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	filter := storage.TransactionFilter{
		MatchStatus:   ledger.MatchStatus(c.Query("status")),
		CardLastFour:  c.Query("card"),
		UnsettledOnly: ParseBoolParam(c, "unsettled", false),
		Limit:         ParseIntParam(c, "limit", 100),
	}
	if types := c.Query("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			tt := ledger.TransactionType(strings.TrimSpace(t))
			if !tt.Valid() {
				h.WriteError(c, http.StatusBadRequest, dto.ValidationError("unknown transaction type "+string(tt)))
				return
			}
			filter.Types = append(filter.Types, tt)
		}
	}
	from, ok := h.dateParam(c, "from")
	if !ok {
		return
	}
	to, ok := h.dateParam(c, "to")
	if !ok {
		return
	}
	filter.From, filter.To = from, to

	txs, err := h.svc.ListTransactions(c.Request.Context(), owner, filter)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.TransactionListResponse{Transactions: txs, Count: len(txs)})
}

func (h *TransactionsHandler) dateParam(c *gin.Context, name string) (*time.Time, bool) {
	val := c.Query(name)
	if val == "" {
		return nil, true
	}
	d, err := ledger.ParseDate(val)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("invalid "+name+" date"))
		return nil, false
	}
	return &d, true
}
