package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/api/handlers"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

func TestTransactionsHandler_List(t *testing.T) {
	svc, _ := newService(t)
	router, group := newRouter()
	group.GET("/transactions", handlers.NewTransactionsHandler(svc).List)
	seedSettlement(t, svc)

	t.Run("lists every row", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, ownerPath+"/transactions", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[dto.TransactionListResponse](t, rec).Count)
	})

	t.Run("filters by type", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, ownerPath+"/transactions?type=cc_purchase", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.TransactionListResponse](t, rec)
		if assert.Equal(t, 1, response.Count) {
			assert.Equal(t, ledger.TypeCCPurchase, response.Transactions[0].Type)
		}
	})

	t.Run("filters by date range", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, ownerPath+"/transactions?from=2024-02-02&to=2024-02-28", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[dto.TransactionListResponse](t, rec).Count)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, ownerPath+"/transactions?type=cash", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects invalid date", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, ownerPath+"/transactions?from=yesterday", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
