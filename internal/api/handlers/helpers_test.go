package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

const ownerPath = "/api/owners/user:1"

func init() {
	gin.SetMode(gin.TestMode)
}

func newService(t *testing.T) (*reconcile.Service, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	return reconcile.NewService(reconcile.DefaultConfig(), repo, nil), repo
}

// newRouter returns an engine with the owner group the handlers are mounted on.
func newRouter() (*gin.Engine, *gin.RouterGroup) {
	router := gin.New()
	return router, router.Group("/api/owners/:owner")
}

func agorot(v int64) *int64 { return &v }

func serve(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func serveRaw(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.APIError {
	t.Helper()
	return decode[dto.APIError](t, rec)
}
