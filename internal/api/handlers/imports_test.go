package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/api/handlers"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/duplicate"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

func importsRouter(svc *reconcile.Service) http.Handler {
	router, group := newRouter()
	h := handlers.NewImportsHandler(svc)
	group.POST("/imports/bank", h.Bank)
	group.POST("/imports/credit-card", h.CreditCard)
	group.POST("/invoices", h.SaveInvoice)
	group.GET("/invoices/:invoiceID/duplicates", h.InvoiceDuplicates)
	group.GET("/invoices/:invoiceID/line-items", h.ListLineItems)
	group.POST("/invoices/:invoiceID/line-items", h.LineItems)
	group.POST("/files/check", h.CheckFile)
	return router
}

func acmeInvoice(date string, total int64) dto.InvoiceRequest {
	return dto.InvoiceRequest{VendorName: "Acme Ltd", InvoiceDate: date, TotalAmount: agorot(total), Currency: "ILS"}
}

func TestImportsHandler_Bank(t *testing.T) {
	t.Run("imports rows and reports duplicates", func(t *testing.T) {
		svc, repo := newService(t)
		router := importsRouter(svc)
		row := ledger.ParsedTransaction{Date: "2024-01-05", Description: "ELECTRIC CO", AmountAgorot: agorot(-12000)}

		rec := serve(t, router, http.MethodPost, ownerPath+"/imports/bank", dto.BankImportRequest{Rows: []ledger.ParsedTransaction{row, row}})

		assert.Equal(t, http.StatusOK, rec.Code)
		result := decode[reconcile.ImportResult](t, rec)
		assert.Equal(t, 1, result.Imported)
		assert.Equal(t, 1, result.Duplicates)
		assert.Equal(t, 1, repo.InsertTransactionsCalled)
	})

	t.Run("rejects empty rows", func(t *testing.T) {
		svc, _ := newService(t)

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/imports/bank", dto.BankImportRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeError(t, rec).Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		svc, _ := newService(t)

		rec := serveRaw(t, importsRouter(svc), http.MethodPost, ownerPath+"/imports/bank", `{"rows": [`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeError(t, rec).Code)
	})

	t.Run("maps storage failure to 500", func(t *testing.T) {
		svc, repo := newService(t)
		repo.InsertTransactionsErr = assert.AnError
		row := ledger.ParsedTransaction{Date: "2024-01-05", Description: "ELECTRIC CO", AmountAgorot: agorot(-12000)}

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/imports/bank", dto.BankImportRequest{Rows: []ledger.ParsedTransaction{row}})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, dto.ErrCodeInternalError, decodeError(t, rec).Code)
	})
}

func TestImportsHandler_CreditCard(t *testing.T) {
	svc, repo := newService(t)
	row := ledger.ParsedCreditCardTransaction{Date: "2024-02-01", MerchantName: "SUPERMARKET", AmountAgorot: agorot(-9900), CardLastFour: "4176"}

	rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/imports/credit-card", dto.CreditCardImportRequest{Rows: []ledger.ParsedCreditCardTransaction{row}})

	assert.Equal(t, http.StatusOK, rec.Code)
	result := decode[reconcile.ImportResult](t, rec)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, ledger.TypeCCPurchase, result.Transactions[0].Type)

	txs, err := repo.ListTransactions(t.Context(), "user:1", storage.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestImportsHandler_SaveInvoice(t *testing.T) {
	t.Run("creates invoice", func(t *testing.T) {
		svc, _ := newService(t)

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/invoices", acmeInvoice("10/03/2024", 50000))

		assert.Equal(t, http.StatusCreated, rec.Code)
		result := decode[reconcile.InvoiceSaveResult](t, rec)
		assert.True(t, result.Saved)
		assert.NotEmpty(t, result.Invoice.ID)
		assert.Equal(t, ledger.OwnerID("user:1"), result.Invoice.OwnerID)
		assert.Equal(t, "2024-03-10", ledger.FormatDate(result.Invoice.InvoiceDate))
	})

	t.Run("rejects invalid date", func(t *testing.T) {
		svc, _ := newService(t)

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/invoices", acmeInvoice("someday", 50000))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeError(t, rec).Code)
	})

	t.Run("refuses semantic duplicate under block policy", func(t *testing.T) {
		cfg := reconcile.DefaultConfig()
		cfg.Semantic.Policy = duplicate.PolicyBlock
		svc := reconcile.NewService(cfg, storage.NewMockRepository(), nil)
		router := importsRouter(svc)
		first := serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-10", 50000))
		require.Equal(t, http.StatusCreated, first.Code)

		rec := serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-11", 50500))

		assert.Equal(t, http.StatusConflict, rec.Code)
		result := decode[reconcile.InvoiceSaveResult](t, rec)
		assert.False(t, result.Saved)
		assert.True(t, result.Duplicates.Blocking)
	})

	t.Run("refuses total change", func(t *testing.T) {
		svc, _ := newService(t)
		router := importsRouter(svc)
		first := decode[reconcile.InvoiceSaveResult](t, serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-10", 50000)))

		changed := acmeInvoice("2024-03-10", 60000)
		changed.ID = first.Invoice.ID
		rec := serve(t, router, http.MethodPost, ownerPath+"/invoices", changed)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, dto.ErrCodeConflict, decodeError(t, rec).Code)
	})
}

func TestImportsHandler_LineItems(t *testing.T) {
	t.Run("imports items for a stored invoice", func(t *testing.T) {
		svc, _ := newService(t)
		router := importsRouter(svc)
		inv := decode[reconcile.InvoiceSaveResult](t, serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-10", 50000))).Invoice
		item := ledger.ExtractedLineItem{Date: "2024-03-10", Description: "Consulting", ReferenceID: "INV-001", Amount: agorot(50000)}

		rec := serve(t, router, http.MethodPost, ownerPath+"/invoices/"+inv.ID+"/line-items", dto.LineItemImportRequest{Items: []ledger.ExtractedLineItem{item}})

		assert.Equal(t, http.StatusOK, rec.Code)
		result := decode[reconcile.LineItemImportResult](t, rec)
		assert.Equal(t, 1, result.Imported)
		require.Len(t, result.LineItems, 1)
		assert.Equal(t, "ILS", result.LineItems[0].Currency)

		list := serve(t, router, http.MethodGet, ownerPath+"/invoices/"+inv.ID+"/line-items", nil)
		assert.Equal(t, http.StatusOK, list.Code)
		assert.Equal(t, 1, decode[dto.LineItemListResponse](t, list).Count)
	})

	t.Run("returns 404 for unknown invoice", func(t *testing.T) {
		svc, _ := newService(t)
		item := ledger.ExtractedLineItem{Date: "2024-03-10", Amount: agorot(100)}

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/invoices/missing/line-items", dto.LineItemImportRequest{Items: []ledger.ExtractedLineItem{item}})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestImportsHandler_InvoiceDuplicates(t *testing.T) {
	svc, _ := newService(t)
	router := importsRouter(svc)
	serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-10", 50000))
	second := decode[reconcile.InvoiceSaveResult](t, serve(t, router, http.MethodPost, ownerPath+"/invoices", acmeInvoice("2024-03-10", 50000)))

	rec := serve(t, router, http.MethodGet, ownerPath+"/invoices/"+second.Invoice.ID+"/duplicates", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	result := decode[reconcile.InvoiceSaveResult](t, rec)
	assert.True(t, result.Duplicates.IsDuplicate)
	assert.False(t, result.Duplicates.Blocking)
}

func TestImportsHandler_CheckFile(t *testing.T) {
	t.Run("check only does not record the file", func(t *testing.T) {
		svc, _ := newService(t)
		router := importsRouter(svc)
		body := dto.FileCheckRequest{Filename: "statement.pdf", SizeBytes: 2048}

		first := serve(t, router, http.MethodPost, ownerPath+"/files/check", body)
		again := serve(t, router, http.MethodPost, ownerPath+"/files/check", body)

		assert.Equal(t, http.StatusOK, first.Code)
		assert.False(t, decode[reconcile.UploadResult](t, again).Check.IsDuplicate)
	})

	t.Run("register refuses an exact duplicate", func(t *testing.T) {
		svc, _ := newService(t)
		router := importsRouter(svc)
		body := dto.FileCheckRequest{Filename: "statement.pdf", SizeBytes: 2048, Register: true}

		first := serve(t, router, http.MethodPost, ownerPath+"/files/check", body)
		again := serve(t, router, http.MethodPost, ownerPath+"/files/check", body)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.NotNil(t, decode[reconcile.UploadResult](t, first).File)
		assert.Equal(t, http.StatusConflict, again.Code)
		assert.True(t, decode[reconcile.UploadResult](t, again).Check.Blocking)
	})

	t.Run("requires a filename", func(t *testing.T) {
		svc, _ := newService(t)

		rec := serve(t, importsRouter(svc), http.MethodPost, ownerPath+"/files/check", dto.FileCheckRequest{SizeBytes: 10})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
