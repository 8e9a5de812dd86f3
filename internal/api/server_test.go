package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/api"
	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*api.Server, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := reconcile.NewService(reconcile.DefaultConfig(), repo, logger)
	server := api.NewServer(api.DefaultConfig(), svc, logger)
	return server, repo
}

func do(t *testing.T, server *api.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
}

func TestServer_Routes(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/owners/user:1/runs", http.StatusOK},
		{http.MethodGet, "/api/owners/user:1/runs/99", http.StatusNotFound},
		{http.MethodGet, "/api/owners/user:1/transactions", http.StatusOK},
		{http.MethodGet, "/api/owners/user:1/match/credit-cards", http.StatusOK},
		{http.MethodPost, "/api/owners/user:1/match/credit-cards", http.StatusOK},
		{http.MethodPost, "/api/owners/user:1/match/line-items", http.StatusOK},
		{http.MethodGet, "/api/owners/user:1/vendor-aliases", http.StatusOK},
		{http.MethodGet, "/api/owners/user:1/invoices/missing/duplicates", http.StatusNotFound},
		{http.MethodGet, "/api/owners/user:1/invoices/missing/line-items", http.StatusNotFound},
		{http.MethodDelete, "/api/owners/user:1/line-items/missing/link", http.StatusNotFound},
		{http.MethodGet, "/api/owners/user:1/jobs", http.StatusOK},
		{http.MethodGet, "/api/owners/user:1/jobs/missing", http.StatusNotFound},
		{http.MethodGet, "/api/owners/bogus/runs", http.StatusBadRequest},
		{http.MethodGet, "/api/orders", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, server, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ImportThenMatch(t *testing.T) {
	server, _ := newTestServer(t)

	bank := do(t, server, http.MethodPost, "/api/owners/user:1/imports/bank", dto.BankImportRequest{
		Rows: []ledger.ParsedTransaction{{Date: "2024-02-02", Description: "VISA 4176", AmountAgorot: ptr(-9900)}},
	})
	require.Equal(t, http.StatusOK, bank.Code)

	card := do(t, server, http.MethodPost, "/api/owners/user:1/imports/credit-card", dto.CreditCardImportRequest{
		Rows: []ledger.ParsedCreditCardTransaction{{Date: "2024-02-01", MerchantName: "SUPERMARKET", AmountAgorot: ptr(-9900), CardLastFour: "4176"}},
	})
	require.Equal(t, http.StatusOK, card.Code)

	rec := do(t, server, http.MethodPost, "/api/owners/user:1/match/credit-cards", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var result reconcile.CreditCardRunResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.MatchedCCTransactions)

	runs := do(t, server, http.MethodGet, "/api/owners/user:1/runs", nil)
	var list dto.RunListResponse
	require.NoError(t, json.NewDecoder(runs.Body).Decode(&list))
	assert.Equal(t, 3, list.Count)
}

func TestServer_CORS(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("allows configured origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/owners/user:1/runs", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin list disables CORS", func(t *testing.T) {
		repo := storage.NewMockRepository()
		svc := reconcile.NewService(reconcile.DefaultConfig(), repo, nil)
		server := api.NewServer(api.Config{Port: 0}, svc, slog.New(slog.DiscardHandler))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func ptr(v int64) *int64 { return &v }
