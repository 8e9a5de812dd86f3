package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/api/handlers"
)

func TestHealthHandler_Get(t *testing.T) {
	t.Run("returns 200 OK with health status", func(t *testing.T) {
		router := gin.New()
		router.GET("/health", handlers.NewHealthHandler().Get)

		rec := serve(t, router, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

		response := decode[dto.HealthResponse](t, rec)
		assert.Equal(t, "ok", response.Status)
		assert.NotEmpty(t, response.Timestamp)
	})
}
